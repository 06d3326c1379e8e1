package netconfig

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/global.config.json")
	require.NoError(t, err)
	return string(data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestParse(t *testing.T) {
	cfg, err := Parse(loadFixture(t))
	require.NoError(t, err)

	cp := cfg.Checkpoint()
	assert.Equal(t, uint32(100), cp.Seqno)
	assert.Equal(t, int32(-1), cp.Workchain)
	assert.Equal(t, int64(-9223372036854775808), cp.Shard)
	assert.Equal(t, "VpWyfNOLm8Rqt6CZZ9dZGqJRO3NyrlHHYN1k1oLbJ6g=", cp.RootHash)
	assert.Equal(t, "8o12KX54BtJM8RERD1J97Qe1ZWk61LIIyXydlBnixK8=", cp.FileHash)

	ib := cfg.Global().Validator.InitBlock
	assert.Equal(t, uint32(100), ib.SeqNo)
	assert.Len(t, ib.RootHash, 32)

	servers := cfg.Liteservers()
	require.Len(t, servers, 2)
	assert.Equal(t, "5.9.10.47:19949", servers[0].Addr)
	assert.Equal(t, "135.181.177.59:53312", servers[1].Addr)
	assert.Equal(t, "n4VDnSCUuSpjnCyUk9e3QOOd6o0ItSWYbTnW3Wnn8wk=", servers[0].Key)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"not json", "liteservers = []"},
		{"array", "[1, 2, 3]"},
		{"null", "null"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.doc)
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestSetCheckpoint_RoundTrip(t *testing.T) {
	cfg, err := Parse(loadFixture(t))
	require.NoError(t, err)

	next := Checkpoint{
		Workchain: -1,
		Shard:     -9223372036854775808,
		Seqno:     150,
		RootHash:  "cm9vdC1oYXNoLTE1MA==",
		FileHash:  "ZmlsZS1oYXNoLTE1MA==",
	}
	require.NoError(t, cfg.SetCheckpoint(next))
	assert.Equal(t, next, cfg.Checkpoint())

	out, err := cfg.Serialize()
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, next, reparsed.Checkpoint())
	assert.Len(t, reparsed.Liteservers(), 2)

	// Unknown fields and exact 64-bit shards survive.
	assert.Contains(t, out, `"x_operator_notes":"kept on round trip"`)
	assert.Contains(t, out, `-9223372036854775808`)
	assert.Contains(t, out, `"hardforks"`)
}

func TestSetCheckpoint_MissingValidator(t *testing.T) {
	cfg, err := Parse(`{"liteservers": []}`)
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{}, cfg.Checkpoint())

	require.NoError(t, cfg.SetCheckpoint(Checkpoint{Workchain: -1, Seqno: 7}))
	out, err := cfg.Serialize()
	require.NoError(t, err)
	assert.Contains(t, out, `"init_block"`)
}

func TestSetCheckpoint_InvalidHash(t *testing.T) {
	tests := []struct {
		name string
		cp   Checkpoint
	}{
		{"root hash", Checkpoint{Seqno: 150, RootHash: "not base64!", FileHash: "ZmlsZQ=="}},
		{"file hash", Checkpoint{Seqno: 150, RootHash: "cm9vdA==", FileHash: "%%%"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse(loadFixture(t))
			require.NoError(t, err)
			before, err := cfg.Serialize()
			require.NoError(t, err)

			err = cfg.SetCheckpoint(tc.cp)
			require.Error(t, err)
			assert.True(t, apperrors.IsConfiguration(err), "got %v", err)

			after, err := cfg.Serialize()
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, uint32(100), cfg.Checkpoint().Seqno)
		})
	}
}

func TestSetCheckpoint_UpdatesTypedView(t *testing.T) {
	cfg, err := Parse(loadFixture(t))
	require.NoError(t, err)

	require.NoError(t, cfg.SetCheckpoint(Checkpoint{Workchain: -1, Shard: -9223372036854775808, Seqno: 150, RootHash: "cm9vdA==", FileHash: "ZmlsZQ=="}))

	ib := cfg.Global().Validator.InitBlock
	assert.Equal(t, uint32(150), ib.SeqNo)
	assert.Equal(t, int32(-1), ib.Workchain)
	assert.Equal(t, []byte("root"), ib.RootHash)
	assert.Equal(t, []byte("file"), ib.FileHash)
}

func TestParse_ValidatorNotObject(t *testing.T) {
	_, err := Parse(`{"validator": 5}`)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestCheckpointString(t *testing.T) {
	cp := Checkpoint{Workchain: -1, Shard: -9223372036854775808, Seqno: 42, RootHash: "r", FileHash: "f"}
	assert.Equal(t, "(-1,8000000000000000,42):r:f", cp.String())
}

func staticFetcher(cp *Checkpoint, err error) CheckpointFetcher {
	return CheckpointFetcherFunc(func(ctx context.Context, servers []Liteserver) (*Checkpoint, error) {
		return cp, err
	})
}

func TestPatch_Monotonic(t *testing.T) {
	doc := loadFixture(t)

	tests := []struct {
		name      string
		fetched   uint32
		wantSeqno uint32
	}{
		{"older checkpoint leaves config unchanged", 80, 100},
		{"equal checkpoint leaves config unchanged", 100, 100},
		{"newer checkpoint is installed", 150, 150},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fetched := &Checkpoint{Workchain: -1, Shard: -9223372036854775808, Seqno: tc.fetched, RootHash: "cm9vdA==", FileHash: "ZmlsZQ=="}

			patched, err := Patch(context.Background(), doc, staticFetcher(fetched, nil), discardLogger())
			require.NoError(t, err)

			cfg, err := Parse(patched)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSeqno, cfg.Checkpoint().Seqno)
			if tc.fetched <= 100 {
				assert.Equal(t, "VpWyfNOLm8Rqt6CZZ9dZGqJRO3NyrlHHYN1k1oLbJ6g=", cfg.Checkpoint().RootHash)
			}
		})
	}
}

func TestPatch_PassesBootstrapList(t *testing.T) {
	var got []Liteserver
	fetcher := CheckpointFetcherFunc(func(ctx context.Context, servers []Liteserver) (*Checkpoint, error) {
		got = servers
		return &Checkpoint{Seqno: 1}, nil
	})

	_, err := Patch(context.Background(), loadFixture(t), fetcher, discardLogger())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "5.9.10.47:19949", got[0].Addr)
}

func TestPatch_NoCheckpoint(t *testing.T) {
	cause := errors.New("all bootstrap servers timed out")

	_, err := Patch(context.Background(), loadFixture(t), staticFetcher(nil, cause), discardLogger())
	require.Error(t, err)
	assert.True(t, apperrors.IsCheckpointUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.True(t, strings.Contains(err.Error(), "update it manually"))

	_, err = Patch(context.Background(), loadFixture(t), staticFetcher(nil, nil), discardLogger())
	assert.True(t, apperrors.IsCheckpointUnavailable(err))
}

func TestPatch_PartialFailureStillPatches(t *testing.T) {
	fetched := &Checkpoint{Seqno: 200, RootHash: "cm9vdA==", FileHash: "ZmlsZQ=="}

	patched, err := Patch(context.Background(), loadFixture(t), staticFetcher(fetched, errors.New("one server down")), discardLogger())
	require.NoError(t, err)

	cfg, err := Parse(patched)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), cfg.Checkpoint().Seqno)
}

func TestPatch_InvalidDocument(t *testing.T) {
	called := false
	fetcher := CheckpointFetcherFunc(func(ctx context.Context, servers []Liteserver) (*Checkpoint, error) {
		called = true
		return nil, nil
	})

	_, err := Patch(context.Background(), "{", fetcher, discardLogger())
	assert.True(t, apperrors.IsConfiguration(err))
	assert.False(t, called, "bootstrap servers must not be queried for an unparsable config")
}

func TestRefresh_LogsOutcome(t *testing.T) {
	cfg, err := Parse(loadFixture(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	updated, err := cfg.Refresh(Checkpoint{Seqno: 80}, logger)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Contains(t, buf.String(), "up to date")

	updated, err = cfg.Refresh(Checkpoint{Seqno: 101}, logger)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Contains(t, buf.String(), "new_seqno=101")
}

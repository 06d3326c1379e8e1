package liteserver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/ton"

	"github.com/tonpool/tonpool/lib/netconfig"
)

func TestLatestKeyBlock(t *testing.T) {
	t.Run("previous key block", func(t *testing.T) {
		chain := &fakeChain{master: masterBlock(1000), prevKey: 900}
		key, err := latestKeyBlock(context.Background(), chain)
		require.NoError(t, err)
		assert.Equal(t, uint32(900), key.SeqNo)
		assert.Equal(t, []uint32{900}, chain.lookups)
	})

	t.Run("master is a key block", func(t *testing.T) {
		chain := &fakeChain{master: masterBlock(1000), keyBlock: true, prevKey: 900}
		key, err := latestKeyBlock(context.Background(), chain)
		require.NoError(t, err)
		assert.Equal(t, uint32(1000), key.SeqNo)
		assert.Empty(t, chain.lookups)
	})

	t.Run("lookup failure", func(t *testing.T) {
		chain := &fakeChain{master: masterBlock(1000), prevKey: 900, lookupErr: ton.LSError{Code: 500, Text: "busy"}}
		_, err := latestKeyBlock(context.Background(), chain)
		require.Error(t, err)
	})
}

func TestCheckpointOf(t *testing.T) {
	cp := checkpointOf(&ton.BlockIDExt{Workchain: -1, Shard: masterShard, SeqNo: 7, RootHash: []byte("root"), FileHash: []byte("file")})
	assert.Equal(t, netconfig.Checkpoint{Workchain: -1, Shard: masterShard, Seqno: 7, RootHash: "cm9vdA==", FileHash: "ZmlsZQ=="}, cp)
}

func cp(seqno uint32, root string) *netconfig.Checkpoint {
	return &netconfig.Checkpoint{Workchain: -1, Shard: masterShard, Seqno: seqno, RootHash: root, FileHash: "f"}
}

func TestChooseCheckpoint(t *testing.T) {
	tests := []struct {
		name    string
		answers []*netconfig.Checkpoint
		want    *netconfig.Checkpoint
	}{
		{"no answers", nil, nil},
		{"all failed", []*netconfig.Checkpoint{nil, nil}, nil},
		{"single", []*netconfig.Checkpoint{nil, cp(5, "a")}, cp(5, "a")},
		{"majority beats newer outlier", []*netconfig.Checkpoint{cp(5, "a"), cp(9, "x"), cp(5, "a")}, cp(5, "a")},
		{"tie goes to higher seqno", []*netconfig.Checkpoint{cp(5, "a"), cp(8, "b")}, cp(8, "b")},
		{"same seqno different hash", []*netconfig.Checkpoint{cp(5, "b"), cp(5, "a"), cp(5, "b")}, cp(5, "b")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, chooseCheckpoint(tc.answers))
		})
	}
}

func TestBootstrapper_FetchLatestCheckpoint(t *testing.T) {
	defer leaktest.Check(t)()

	var stopped atomic.Int32
	b := NewBootstrapper(time.Second)
	b.dial = func(ctx context.Context, srv netconfig.Liteserver) (chainReader, func(), error) {
		switch srv.Addr {
		case "a:1", "b:1":
			return &fakeChain{master: masterBlock(1000), prevKey: 900}, func() { stopped.Add(1) }, nil
		case "c:1":
			return &fakeChain{master: masterBlock(2000), keyBlock: true}, func() { stopped.Add(1) }, nil
		default:
			return nil, nil, errors.New("connection refused")
		}
	}

	servers := []netconfig.Liteserver{{Addr: "a:1"}, {Addr: "b:1"}, {Addr: "c:1"}, {Addr: "d:1"}}
	got, err := b.FetchLatestCheckpoint(context.Background(), servers)

	require.NotNil(t, got)
	assert.Equal(t, uint32(900), got.Seqno)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d:1")
	assert.Equal(t, int32(3), stopped.Load())
}

func TestBootstrapper_NoAnswers(t *testing.T) {
	b := NewBootstrapper(0)
	assert.Equal(t, DefaultQueryTimeout, b.timeout)
	b.dial = func(ctx context.Context, srv netconfig.Liteserver) (chainReader, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	got, err := b.FetchLatestCheckpoint(context.Background(), []netconfig.Liteserver{{Addr: "a:1"}, {Addr: "b:1"}})
	assert.Nil(t, got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a:1")
	assert.Contains(t, err.Error(), "b:1")

	got, err = b.FetchLatestCheckpoint(context.Background(), nil)
	assert.Nil(t, got)
	assert.Error(t, err)
}

func TestBootstrapper_QueryTimeout(t *testing.T) {
	b := NewBootstrapper(20 * time.Millisecond)
	b.dial = func(ctx context.Context, srv netconfig.Liteserver) (chainReader, func(), error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}

	start := time.Now()
	got, err := b.FetchLatestCheckpoint(context.Background(), []netconfig.Liteserver{{Addr: "slow:1"}})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

func TestLoadNetworkConfig_Path(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"liteservers":[]}`), 0o600))

	doc, err := LoadNetworkConfig(context.Background(), NetworkConfig{ConfigPath: path, ConfigURL: "http://unused.invalid"})
	require.NoError(t, err)
	assert.Equal(t, `{"liteservers":[]}`, doc)

	_, err = LoadNetworkConfig(context.Background(), NetworkConfig{ConfigPath: path + ".missing"})
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestLoadNetworkConfig_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/global.config.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"liteservers":[]}`))
	}))
	defer srv.Close()

	doc, err := LoadNetworkConfig(context.Background(), NetworkConfig{ConfigURL: srv.URL + "/global.config.json"})
	require.NoError(t, err)
	assert.Equal(t, `{"liteservers":[]}`, doc)

	_, err = LoadNetworkConfig(context.Background(), NetworkConfig{ConfigURL: srv.URL + "/missing.json"})
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "404")
}

func TestLoadNetworkConfig_NoSource(t *testing.T) {
	_, err := LoadNetworkConfig(context.Background(), NetworkConfig{})
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestParseLiteservers(t *testing.T) {
	doc, err := LoadNetworkConfig(context.Background(), NetworkConfig{ConfigPath: fixtureConfig})
	require.NoError(t, err)

	servers, err := ParseLiteservers(doc)
	require.NoError(t, err)
	assert.NotEmpty(t, servers)

	_, err = ParseLiteservers(`{"liteservers":[]}`)
	assert.True(t, apperrors.IsConfiguration(err))
}

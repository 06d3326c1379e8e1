package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	apperrors "github.com/tonpool/tonpool/lib/errors"
	"github.com/tonpool/tonpool/lib/netconfig"
)

// maxConfigSize bounds a downloaded network config document.
const maxConfigSize = 8 << 20

var httpClient = &http.Client{Timeout: 30 * time.Second}

// LoadNetworkConfig returns the network config document named by cfg,
// reading ConfigPath when set and downloading ConfigURL otherwise.
func LoadNetworkConfig(ctx context.Context, cfg NetworkConfig) (string, error) {
	if cfg.ConfigPath != "" {
		data, err := os.ReadFile(cfg.ConfigPath)
		if err != nil {
			return "", apperrors.Configuration(fmt.Sprintf("fail to read network config %s", cfg.ConfigPath), err)
		}
		return string(data), nil
	}
	if cfg.ConfigURL == "" {
		return "", apperrors.Configuration("no network config source", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ConfigURL, nil)
	if err != nil {
		return "", apperrors.Configuration("invalid network config url", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", apperrors.Configuration(fmt.Sprintf("fail to download network config from %s", cfg.ConfigURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.Configuration(fmt.Sprintf("fail to download network config from %s: %s", cfg.ConfigURL, resp.Status), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return "", apperrors.Configuration(fmt.Sprintf("fail to download network config from %s", cfg.ConfigURL), err)
	}

	log.WithField("url", cfg.ConfigURL).WithField("bytes", len(data)).Debug("downloaded network config")
	return string(data), nil
}

// ParseLiteservers returns the lite-servers listed in a network config
// document.
func ParseLiteservers(doc string) ([]netconfig.Liteserver, error) {
	cfg, err := netconfig.Parse(doc)
	if err != nil {
		return nil, err
	}
	servers := cfg.Liteservers()
	if len(servers) == 0 {
		return nil, apperrors.Configuration("network config lists no lite-servers", nil)
	}
	return servers, nil
}

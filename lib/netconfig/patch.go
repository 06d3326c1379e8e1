package netconfig

import (
	"context"
	"log/slog"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

// CheckpointFetcher asks bootstrap lite-servers for the most recent trusted
// checkpoint. It returns a nil checkpoint when no server answered; the error,
// if any, describes why.
type CheckpointFetcher interface {
	FetchLatestCheckpoint(ctx context.Context, servers []Liteserver) (*Checkpoint, error)
}

// CheckpointFetcherFunc adapts a function to CheckpointFetcher.
type CheckpointFetcherFunc func(ctx context.Context, servers []Liteserver) (*Checkpoint, error)

// FetchLatestCheckpoint calls f.
func (f CheckpointFetcherFunc) FetchLatestCheckpoint(ctx context.Context, servers []Liteserver) (*Checkpoint, error) {
	return f(ctx, servers)
}

// Patch refreshes the init block of a config document. It runs once, as a
// single attempt: if no bootstrap server produces a checkpoint the call fails
// with ErrCheckpointUnavailable. The embedded checkpoint is only replaced by a
// strictly newer one, so its seqno never goes backwards.
func Patch(ctx context.Context, document string, fetcher CheckpointFetcher, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Parse(document)
	if err != nil {
		return "", err
	}

	latest, err := fetcher.FetchLatestCheckpoint(ctx, cfg.Liteservers())
	if latest == nil {
		return "", apperrors.CheckpointUnavailable(err)
	}
	if err != nil {
		log.WithError(err).Debug("some bootstrap servers did not answer")
	}

	if _, err := cfg.Refresh(*latest, logger); err != nil {
		return "", err
	}
	return cfg.Serialize()
}

// Refresh installs cp when it is newer than the embedded checkpoint and
// reports whether it did.
func (c *Config) Refresh(cp Checkpoint, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	old := c.Checkpoint().Seqno
	if old >= cp.Seqno {
		logger.Info("init block is up to date", "seqno", old)
		return false, nil
	}

	if err := c.SetCheckpoint(cp); err != nil {
		return false, err
	}
	logger.Info("init_block updated", "old_seqno", old, "new_seqno", cp.Seqno)
	return true, nil
}

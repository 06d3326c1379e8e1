package liteserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

// DefaultMaxBlockAge is how old the last masterchain block of a healthy node
// may be.
const DefaultMaxBlockAge = 60 * time.Second

// masterShard is the shard id of the masterchain.
const masterShard int64 = math.MinInt64

// chainReader is the subset of the lite-server API used to verify nodes and
// discover checkpoints.
type chainReader interface {
	GetMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	GetBlockData(ctx context.Context, block *ton.BlockIDExt) (*tlb.Block, error)
	LookupBlock(ctx context.Context, workchain int32, shard int64, seqno uint32) (*ton.BlockIDExt, error)
}

// verifyFunc checks a freshly opened session and returns the masterchain
// block it verified against, if any.
type verifyFunc func(ctx context.Context, r chainReader) (*ton.BlockIDExt, error)

func healthCheck(now func() time.Time, maxAge time.Duration) verifyFunc {
	return func(ctx context.Context, r chainReader) (*ton.BlockIDExt, error) {
		master, err := r.GetMasterchainInfo(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		blk, err := r.GetBlockData(ctx, master)
		if err != nil {
			return nil, mapError(err)
		}

		age := now().Sub(time.Unix(int64(blk.BlockInfo.GenUtime), 0))
		if age > maxAge {
			return nil, fmt.Errorf("%w: last masterchain block %d is %s old", apperrors.ErrUnhealthy, master.SeqNo, age.Truncate(time.Second))
		}
		return master, nil
	}
}

func archiveCheck(now func() time.Time, maxAge time.Duration) verifyFunc {
	healthy := healthCheck(now, maxAge)
	return func(ctx context.Context, r chainReader) (*ton.BlockIDExt, error) {
		master, err := healthy(ctx, r)
		if err != nil {
			return nil, err
		}
		if _, err := r.LookupBlock(ctx, -1, masterShard, 1); err != nil {
			return nil, fmt.Errorf("%w: masterchain block 1 unavailable: %w", apperrors.ErrUnhealthy, mapError(err))
		}
		return master, nil
	}
}

// mapError converts lite-server failures to RemoteError so the retry policy
// can classify them. Other errors are returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var lsErr ton.LSError
	if errors.As(err, &lsErr) {
		return apperrors.Remote(lsErr.Code, lsErr.Text)
	}
	var lsErrPtr *ton.LSError
	if errors.As(err, &lsErrPtr) && lsErrPtr != nil {
		return apperrors.Remote(lsErrPtr.Code, lsErrPtr.Text)
	}
	return err
}

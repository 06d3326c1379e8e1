package liteserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/tonpool/tonpool/lib/netconfig"
)

const (
	// DefaultQueryTimeout bounds each bootstrap server query.
	DefaultQueryTimeout = 10 * time.Second
	// maxParallelQueries caps concurrent bootstrap connections.
	maxParallelQueries = 16
)

type dialFunc func(ctx context.Context, srv netconfig.Liteserver) (chainReader, func(), error)

// Bootstrapper discovers the most recent key block by asking every bootstrap
// lite-server of a config. It implements netconfig.CheckpointFetcher.
type Bootstrapper struct {
	timeout time.Duration
	dial    dialFunc
}

// NewBootstrapper returns a Bootstrapper that gives each server queryTimeout
// to answer. A non-positive timeout uses DefaultQueryTimeout.
func NewBootstrapper(queryTimeout time.Duration) *Bootstrapper {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Bootstrapper{timeout: queryTimeout, dial: dialUnverified}
}

// dialUnverified opens a session without proof checks. Answers are only
// trusted through agreement between servers.
func dialUnverified(ctx context.Context, srv netconfig.Liteserver) (chainReader, func(), error) {
	lc := liteclient.NewConnectionPool()
	if err := lc.AddConnection(ctx, srv.Addr, srv.Key); err != nil {
		return nil, nil, err
	}
	return ton.NewAPIClient(lc, ton.ProofCheckPolicyUnsafe), lc.Stop, nil
}

// FetchLatestCheckpoint queries all servers concurrently. It returns the key
// block reported by the most servers, preferring the higher seqno on a tie,
// along with the combined failures of the servers that did not answer. The
// checkpoint is nil only when no server answered.
func (b *Bootstrapper) FetchLatestCheckpoint(ctx context.Context, servers []netconfig.Liteserver) (*netconfig.Checkpoint, error) {
	results := make([]*netconfig.Checkpoint, len(servers))
	errs := make([]error, len(servers))

	var g errgroup.Group
	g.SetLimit(maxParallelQueries)
	for i, srv := range servers {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()

			cp, err := b.query(qctx, srv)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", srv.Addr, err)
				log.WithField("server", srv.Addr).WithError(err).Debug("bootstrap query failed")
				return nil
			}
			results[i] = cp
			log.WithField("server", srv.Addr).WithField("seqno", cp.Seqno).Debug("bootstrap query answered")
			return nil
		})
	}
	_ = g.Wait()

	combined := multierr.Combine(errs...)
	if len(servers) == 0 {
		combined = fmt.Errorf("config lists no lite-servers")
	}
	return chooseCheckpoint(results), combined
}

func (b *Bootstrapper) query(ctx context.Context, srv netconfig.Liteserver) (*netconfig.Checkpoint, error) {
	r, stop, err := b.dial(ctx, srv)
	if err != nil {
		return nil, err
	}
	defer stop()

	key, err := latestKeyBlock(ctx, r)
	if err != nil {
		return nil, err
	}
	cp := checkpointOf(key)
	return &cp, nil
}

// latestKeyBlock returns the id of the most recent key block known to r.
func latestKeyBlock(ctx context.Context, r chainReader) (*ton.BlockIDExt, error) {
	master, err := r.GetMasterchainInfo(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	blk, err := r.GetBlockData(ctx, master)
	if err != nil {
		return nil, mapError(err)
	}
	if blk.BlockInfo.KeyBlock {
		return master, nil
	}

	key, err := r.LookupBlock(ctx, master.Workchain, master.Shard, blk.BlockInfo.PrevKeyBlockSeqno)
	if err != nil {
		return nil, mapError(err)
	}
	return key, nil
}

func checkpointOf(b *ton.BlockIDExt) netconfig.Checkpoint {
	return netconfig.Checkpoint{
		Workchain: b.Workchain,
		Shard:     b.Shard,
		Seqno:     b.SeqNo,
		RootHash:  base64.StdEncoding.EncodeToString(b.RootHash),
		FileHash:  base64.StdEncoding.EncodeToString(b.FileHash),
	}
}

// chooseCheckpoint picks the answer given by the most servers, breaking ties
// by the higher seqno and then the lower root hash. Nil entries are ignored.
func chooseCheckpoint(answers []*netconfig.Checkpoint) *netconfig.Checkpoint {
	type tally struct {
		cp    netconfig.Checkpoint
		votes int
	}
	byBlock := map[netconfig.Checkpoint]*tally{}
	for _, a := range answers {
		if a == nil {
			continue
		}
		if t, ok := byBlock[*a]; ok {
			t.votes++
			continue
		}
		byBlock[*a] = &tally{cp: *a, votes: 1}
	}
	if len(byBlock) == 0 {
		return nil
	}

	tallies := make([]*tally, 0, len(byBlock))
	for _, t := range byBlock {
		tallies = append(tallies, t)
	}
	sort.Slice(tallies, func(i, j int) bool {
		if tallies[i].votes != tallies[j].votes {
			return tallies[i].votes > tallies[j].votes
		}
		if tallies[i].cp.Seqno != tallies[j].cp.Seqno {
			return tallies[i].cp.Seqno > tallies[j].cp.Seqno
		}
		return tallies[i].cp.RootHash < tallies[j].cp.RootHash
	})
	best := tallies[0].cp
	return &best
}

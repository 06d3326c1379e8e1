package resilience

import (
	"context"
	"math"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/benbjohnson/clock"

	apperrors "github.com/tonpool/tonpool/lib/errors"
)

// Default retry settings.
const (
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultMaxRetries    = 10

	// MaxRetriesLimit is the largest retry budget a configuration may ask for.
	MaxRetriesLimit = 10000
)

// RetryStrategy is a fixed-interval, bounded retry policy.
// A zero MaxRetries means the operation runs exactly once.
type RetryStrategy struct {
	// Interval is the wait between attempts. It does not grow.
	Interval time.Duration `toml:"interval"`
	// MaxRetries is the number of attempts allowed after the first one.
	MaxRetries uint `toml:"max_retries"`
}

// DefaultRetryStrategy returns the default policy.
func DefaultRetryStrategy() RetryStrategy {
	return RetryStrategy{
		Interval:   DefaultRetryInterval,
		MaxRetries: DefaultMaxRetries,
	}
}

// Attempts returns the total number of attempts the strategy allows. It
// saturates instead of wrapping to zero, which retry-go reads as unlimited.
func (s RetryStrategy) Attempts() uint {
	if s.MaxRetries == math.MaxUint {
		return math.MaxUint
	}
	return s.MaxRetries + 1
}

// ShouldRetry is the default failure classifier: only lite-server overload
// failures are retried. Everything else, configuration errors included, is
// surfaced on first occurrence.
func ShouldRetry(err error) bool {
	return apperrors.IsTransient(err)
}

// Do runs fn until it succeeds, retryIf rejects its failure, or the attempt
// budget is spent. The last failure is returned unchanged. A nil retryIf uses
// ShouldRetry; a nil clk uses the wall clock.
//
// Cancelling ctx stops the wait between attempts and returns the context
// error. It never interrupts an attempt in flight.
func (s RetryStrategy) Do(ctx context.Context, clk clock.Clock, fn func() error, retryIf func(error) bool) error {
	if retryIf == nil {
		retryIf = ShouldRetry
	}
	if clk == nil {
		clk = clock.New()
	}

	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.Attempts()),
		retry.Delay(s.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
		retry.WithTimer(clk),
		retry.OnRetry(func(n uint, err error) {
			log.WithField("attempt", n+1).
				WithField("interval", s.Interval).
				WithError(err).
				Debug("retrying after transient failure")
		}),
	)
}

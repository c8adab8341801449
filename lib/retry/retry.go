package retry

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
)

var log = logging.Logger("retry")

// Retry calls f until it succeeds, returns an error for which retryable is
// false, attempts run out, or ctx ends. Delays grow exponentially from
// minDelay.
func Retry[T any](ctx context.Context, attempts int, minDelay time.Duration, retryable func(error) bool, f func() (T, error)) (result T, err error) {
	b := &backoff.Backoff{
		Min:    minDelay,
		Max:    64 * minDelay,
		Factor: 2,
		Jitter: true,
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			d := b.Duration()
			log.Infow("retrying after error", "attempt", i+1, "delay", d, "error", err)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
		result, err = f()
		if err == nil || !retryable(err) {
			return result, err
		}
	}
	log.Errorf("Failed after %d attempts, last error: %s", attempts, err)
	return result, err
}

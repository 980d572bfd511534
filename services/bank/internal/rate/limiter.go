// Package rate limits mutating bank operations per principal.
package rate

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Limiter decides whether a principal's request may proceed within the
// current window, returning how long to wait when it may not.
type Limiter interface {
	Allow(ctx context.Context, principal common.Address, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

package remote

import (
	"context"
	"time"

	"github.com/AngelCh415/creative-ops/internal/utils"
)

// Retrier wraps an HTTPClient with the transport retry policy. The clients built on top of it
// never retry on their own.
type Retrier struct {
	C       HTTPClient
	Backoff utils.Backoff
}

func NewRetrier(c HTTPClient, retries int) *Retrier {
	return &Retrier{C: c, Backoff: utils.NewBackoff(100*time.Millisecond, retries)}
}

func (r *Retrier) GetJSON(ctx context.Context, url string, dst any) error {
	return r.Backoff.Do(ctx, retryable, func(int) error {
		return GetJSON(ctx, r.C, url, dst)
	})
}

// PostJSON is used for idempotent lookups only (batch reads sent as POST bodies).
func (r *Retrier) PostJSON(ctx context.Context, url string, body, dst any) error {
	return r.Backoff.Do(ctx, retryable, func(int) error {
		return PostJSON(ctx, r.C, url, body, dst)
	})
}

package resilience

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// WithTimeout runs fn with a deadline attached to ctx. Exceeding it
// cancels the in-flight operation's context and returns KindTimeout; fn
// must itself honor ctx cancellation for the cancellation to take effect
// on the underlying I/O.
func WithTimeout(ctx context.Context, d time.Duration, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return orcherr.New(orcherr.KindTimeout, op, "the request took too long").
			WithRecoveryHint("retry with a smaller request")
	}
}

package resilience

import (
	"context"
	"fmt"
	"time"
)

// TimeoutError reports an operation that overran its limit. It matches
// context.DeadlineExceeded under errors.Is.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Op, e.Limit)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// WithTimeout gives fn at most limit to finish. The caller is released at
// the deadline even if fn ignores its context; a non-positive limit runs fn
// inline.
func WithTimeout(ctx context.Context, limit time.Duration, op string, fn func(ctx context.Context) error) error {
	if limit <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- fn(opCtx) }()

	select {
	case err := <-result:
		return err
	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return &TimeoutError{Op: op, Limit: limit}
	}
}

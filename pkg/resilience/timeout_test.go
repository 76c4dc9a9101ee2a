package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), time.Second, "op", func(context.Context) error { return nil })
	assert.NoError(t, err)

	err = WithTimeout(context.Background(), 10*time.Millisecond, "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = WithTimeout(context.Background(), 10*time.Millisecond, "cache-get", func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	var te *TimeoutError
	if assert.ErrorAs(t, err, &te) {
		assert.Equal(t, "cache-get", te.Op)
		assert.Equal(t, "cache-get timed out after 10ms", te.Error())
	}

	err = WithTimeout(context.Background(), 0, "op", func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom, "a zero timeout runs fn directly")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(ctx, time.Second, "op", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

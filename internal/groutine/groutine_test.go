package groutine_test

import (
	"context"
	"testing"
	"time"

	"github.com/AdinAck/Headlights-App/internal/groutine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoNamesGoroutine(t *testing.T) {
	names := make(chan string, 1)
	done := groutine.Go(nil, "headlight-test", func(ctx context.Context) {
		names <- groutine.Name(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "goroutine did not finish")
	}
	assert.Equal(t, "headlight-test", <-names)
}

func TestGoPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := groutine.Go(ctx, "waiter", func(ctx context.Context) {
		<-ctx.Done()
	})
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestNameOutsideGroutine(t *testing.T) {
	assert.Empty(t, groutine.Name(context.Background()))
	assert.Empty(t, groutine.Name(nil)) //nolint:staticcheck
}

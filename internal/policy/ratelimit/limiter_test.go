package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_WaitPacesSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS = one token every 100ms, burst 1.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.amazon.com.br/s?k=a"))
	require.NoError(t, l.Wait(ctx, "https://www.kabum.com.br/busca/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Wait(ctx, "https://WWW.AMAZON.com.br/s?k=b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestLimiter_DisabledNeverBlocks(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "https://example.com/p"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com"))
}

func TestLimiter_WaitRejectsBadURL(t *testing.T) {
	t.Parallel()

	require.Error(t, New(Config{DefaultRPS: 1}).Wait(context.Background(), "://bad"))
}

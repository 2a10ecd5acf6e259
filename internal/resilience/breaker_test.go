package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(4, 0.5, time.Hour).WithTarget("provider")

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow(ctx))
		b.Report(ctx, true)
	}
	for i := 0; i < 2; i++ {
		require.True(t, b.Allow(ctx))
		b.Report(ctx, false)
	}

	require.False(t, b.Allow(ctx), "breaker should refuse calls once the ratio is hit")
}

func TestBreakerStaysClosedBelowMinRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(10, 0.5, time.Hour)

	for i := 0; i < 9; i++ {
		b.Report(ctx, false)
	}
	require.True(t, b.Allow(ctx), "too few observations to judge the provider")
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(1, 0.5, 10*time.Millisecond)

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx))

	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow(ctx), "cool-off elapsed, one probe is admitted")

	b.Report(ctx, true)
	require.True(t, b.Allow(ctx), "successful probe closes the breaker")
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewBreaker(1, 0.5, 10*time.Millisecond)

	b.Report(ctx, false)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow(ctx))

	b.Report(ctx, false)
	require.False(t, b.Allow(ctx), "failed probe reopens the breaker")
}

func TestTransportRefusesWhenOpen(t *testing.T) {
	t.Parallel()

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBreaker(1, 0.5, time.Hour)
	client := &http.Client{Transport: Transport{Breaker: b}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, 1, calls)

	_, err = client.Get(srv.URL)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOpenCircuit))
	require.Equal(t, 1, calls, "open breaker must not dial the provider")
}

func TestTransportTreatsRejectionsAsHealthy(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBreaker(1, 0.5, time.Hour)
	client := &http.Client{Transport: Transport{Breaker: b}}

	for i := 0; i < 5; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	require.True(t, b.Allow(context.Background()), "4xx responses are the caller's problem, not the provider's")
}

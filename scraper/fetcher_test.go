package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBody(t *testing.T) {
	cfg := testConfig(t)
	f, transport := newMockFetcher(t, cfg, nil)
	transport.RegisterResponder("GET", testBaseURL+"/b1/", htmlResponder("<p>ok</p>"))

	resp, err := f.Fetch(context.Background(), testBaseURL+"/b1/", nil)
	require.NoError(t, err)
	require.Equal(t, "<p>ok</p>", string(resp.Body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.RequestCount())
}

func TestFetchMergesQueryParams(t *testing.T) {
	cfg := testConfig(t)
	f, transport := newMockFetcher(t, cfg, nil)
	transport.RegisterResponderWithQuery("GET", testBaseURL+"/txt.php", "id=32168", httpmock.NewStringResponder(http.StatusOK, "text"))

	resp, err := f.Fetch(context.Background(), testBaseURL+"/txt.php", url.Values{"id": {"32168"}})
	require.NoError(t, err)
	require.Equal(t, "text", string(resp.Body))
}

func TestFetchHTTPStatusIsNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			cfg := testConfig(t)
			f, transport := newMockFetcher(t, cfg, nil)
			transport.RegisterResponder("GET", testBaseURL+"/b7/", httpmock.NewStringResponder(status, ""))

			_, err := f.Fetch(context.Background(), testBaseURL+"/b7/", nil)
			var statusErr *HTTPStatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, status, statusErr.StatusCode)
			require.Equal(t, 0, f.RetryCount())
			require.Equal(t, 1, transport.GetTotalCallCount())
		})
	}
}

func TestFetchRedirectIsNotFollowed(t *testing.T) {
	cfg := testConfig(t)
	f, transport := newMockFetcher(t, cfg, nil)
	transport.RegisterResponder("GET", testBaseURL+"/b9999999/", redirectResponder(testBaseURL+"/"))
	transport.RegisterResponder("GET", testBaseURL+"/", htmlResponder("front page"))

	_, err := f.Fetch(context.Background(), testBaseURL+"/b9999999/", nil)
	var redirect *RedirectNotAllowed
	require.ErrorAs(t, err, &redirect)
	require.Equal(t, testBaseURL+"/", redirect.Location)
	require.Equal(t, 0, transport.GetCallCountInfo()["GET "+testBaseURL+"/"])
	require.Equal(t, 0, f.RetryCount())
}

func TestFetchRetriesTransientFaultsUntilSuccess(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 0
	metrics := NewMetrics()
	f, transport := newMockFetcher(t, cfg, metrics)
	transport.RegisterResponder("GET", testBaseURL+"/l55/1", flakyResponder(4, htmlResponder("listing")))

	resp, err := f.Fetch(context.Background(), testBaseURL+"/l55/1", nil)
	require.NoError(t, err)
	require.Equal(t, "listing", string(resp.Body))
	require.Equal(t, 4, f.RetryCount())
	require.Equal(t, 5, f.RequestCount())
	require.Equal(t, float64(4), testutil.ToFloat64(metrics.RetriesTotal))
}

func TestFetchRetriesDroppedConnection(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			conn.Close()
			return
		}
		fmt.Fprint(w, "<p>ok</p>")
	}))
	t.Cleanup(server.Close)

	cfg := testConfig(t)
	cfg.BaseURL = server.URL
	f, err := NewFetcher(cfg, nil)
	require.NoError(t, err)

	resp, err := f.Fetch(context.Background(), server.URL+"/b1/", nil)
	require.NoError(t, err)
	require.Equal(t, "<p>ok</p>", string(resp.Body))
	require.Equal(t, int32(2), calls.Load())
	require.Equal(t, 1, f.RetryCount())
}

func TestFetchBoundedRetriesExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 2
	f, transport := newMockFetcher(t, cfg, nil)
	transport.RegisterResponder("GET", testBaseURL+"/b1/", httpmock.NewErrorResponder(connectionRefused()))

	_, err := f.Fetch(context.Background(), testBaseURL+"/b1/", nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var conn ErrConnection
	require.ErrorAs(t, err, &conn)
	require.False(t, IsContained(err))
	require.Equal(t, 3, transport.GetTotalCallCount())
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	cfg := testConfig(t)
	f, transport := newMockFetcher(t, cfg, nil)
	transport.RegisterResponder("GET", testBaseURL+"/b1/", htmlResponder("ok"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, testBaseURL+"/b1/", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, transport.GetTotalCallCount())
}

func TestFetchCancelDoesNotWaitForSlowResponse(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	cfg := testConfig(t)
	cfg.BaseURL = server.URL
	cfg.Timeout = time.Minute
	f, err := NewFetcher(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = f.Fetch(ctx, server.URL+"/b1/", nil)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 0, f.RetryCount())
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	cfg := testConfig(t)
	f, _ := newMockFetcher(t, cfg, nil)

	_, err := f.Fetch(context.Background(), "/b1/", nil)
	require.Error(t, err)
}

func TestNewFetcherRequiresConfig(t *testing.T) {
	_, err := NewFetcher(nil, nil)
	require.Error(t, err)
}

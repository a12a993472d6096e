package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-tululu/config"
)

const responseKey = "response"

// Response is a fetched resource.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// PageFetcher issues GET requests. Fetcher is the production implementation.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) (*Response, error)
}

// Fetcher wraps a colly collector with the retry policy for transient faults.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics

	requestCount int64
	retryCount   int64
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the HTTP round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.collector.WithTransport(rt)
	}
}

// NewFetcher builds a fetcher configured from cfg. metrics may be nil.
func NewFetcher(cfg *config.Config, metrics *Metrics, opts ...FetcherOption) (*Fetcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	collector.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		r.Ctx.Put(responseKey, &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       r.Body,
		})
	})

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch GETs rawURL with params merged into its query.
//
// Connection failures and timeouts are retried with exponential backoff; with
// MaxRetries at zero they are retried until they succeed. Redirects and 4xx/5xx
// responses fail at once with *RedirectNotAllowed or *HTTPStatusError. A done
// ctx ends the call without waiting for the request in flight.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}

	var resp *Response
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		r, err := f.attemptContext(ctx, target)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		atomic.AddInt64(&f.retryCount, 1)
		f.metrics.IncRetries()
		slog.Warn("transient fetch failure, retrying",
			slog.String("url", target),
			slog.String("category", errorTypeLabel(err)),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	}

	if err := backoff.RetryNotify(operation, f.policy(ctx), notify); err != nil {
		if isTransient(err) {
			return nil, fmt.Errorf("fetch %s: %w after %d retries: %w", target, ErrRetriesExhausted, f.cfg.MaxRetries, err)
		}
		return nil, err
	}
	return resp, nil
}

// RequestCount is the number of HTTP attempts made, retries included.
func (f *Fetcher) RequestCount() int {
	return int(atomic.LoadInt64(&f.requestCount))
}

// RetryCount is the number of retries scheduled after transient faults.
func (f *Fetcher) RetryCount() int {
	return int(atomic.LoadInt64(&f.retryCount))
}

type attemptResult struct {
	resp *Response
	err  error
}

// attemptContext returns as soon as ctx is done. colly requests cannot carry a
// context, so an abandoned attempt finishes in the background within cfg.Timeout.
func (f *Fetcher) attemptContext(ctx context.Context, target string) (*Response, error) {
	done := make(chan attemptResult, 1)
	go func() {
		resp, err := f.attempt(target)
		done <- attemptResult{resp: resp, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.resp, res.err
	}
}

func (f *Fetcher) attempt(target string) (*Response, error) {
	atomic.AddInt64(&f.requestCount, 1)
	f.metrics.IncRequest("started")

	cctx := colly.NewContext()
	start := time.Now()
	err := f.collector.Request(http.MethodGet, target, nil, cctx, nil)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, classifyError(err)
	}

	resp, ok := cctx.GetAny(responseKey).(*Response)
	if !ok || resp == nil {
		return nil, fmt.Errorf("fetch %s: no response received", target)
	}

	switch {
	case resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest:
		return nil, &RedirectNotAllowed{
			URL:        target,
			StatusCode: resp.StatusCode,
			Location:   resp.Header.Get("Location"),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &HTTPStatusError{URL: target, StatusCode: resp.StatusCode}
	}

	f.metrics.IncRequest("completed")
	return resp, nil
}

func (f *Fetcher) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.cfg.RetryBackoff
	exp.Multiplier = 2
	if f.cfg.RetryBackoffMax > 0 {
		exp.MaxInterval = f.cfg.RetryBackoffMax
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if f.cfg.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(f.cfg.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

func withParams(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", rawURL)
	}
	if len(params) == 0 {
		return u.String(), nil
	}
	query := u.Query()
	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

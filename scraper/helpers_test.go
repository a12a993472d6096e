package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-tululu/config"
)

const testBaseURL = "https://tululu.test"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.DestFolder = t.TempDir()
	cfg.Timeout = 5 * time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.RetryBackoffMax = 5 * time.Millisecond
	return cfg
}

func newMockFetcher(t *testing.T, cfg *config.Config, metrics *Metrics) (*Fetcher, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	f, err := NewFetcher(cfg, metrics, WithTransport(transport))
	require.NoError(t, err)
	return f, transport
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponder(http.StatusOK, body)
	return resp.HeaderSet(http.Header{"Content-Type": {"text/html; charset=utf-8"}})
}

func redirectResponder(location string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusFound, "")
		resp.Header.Set("Location", location)
		return resp, nil
	}
}

// flakyResponder fails with a connection error the first failures times.
func flakyResponder(failures int, next httpmock.Responder) httpmock.Responder {
	var mu sync.Mutex
	calls := 0
	return func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= failures {
			return nil, connectionRefused()
		}
		return next(req)
	}
}

func connectionRefused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func listingPage(ids []int, lastPage int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="content"><h1>Научная фантастика</h1>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<table class="d_book"><tr><td><div class="bookimage"><a href="/b%d/"><img src="/shots/%d.jpg"></a></div></td></tr></table>`, id, id)
	}
	if lastPage > 1 {
		b.WriteString(`<p class="center">`)
		for page := 1; page <= lastPage; page++ {
			fmt.Fprintf(&b, `<a class="npage" href="/l55/%d/">%d</a>`, page, page)
		}
		b.WriteString(`</p>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func bookPage(title, author, cover string) string {
	return fmt.Sprintf(`<html><body><div id="content">
<h1>%s &nbsp; :: &nbsp; %s</h1>
<table class="d_book"><tr><td><div class="bookimage"><a href="#"><img src="%s"></a></div></td></tr></table>
<span class="d_book">Жанр книги: <a href="/l55/">Научная фантастика</a>, <a href="/l5/">Прочие приключения</a></span>
<div class="texts"><b>Читатель</b><span class="black">Отличная книга</span></div>
</div></body></html>`, title, author, cover)
}

// fakeFetcher serves canned bodies keyed by full URL and counts requests.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	errs  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]byte),
		errs:  make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string, params url.Values) (*Response, error) {
	target, err := withParams(rawURL, params)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, target)
	if err, ok := f.errs[target]; ok {
		return nil, err
	}
	body, ok := f.pages[target]
	if !ok {
		return nil, &HTTPStatusError{URL: target, StatusCode: http.StatusNotFound}
	}
	return &Response{URL: target, StatusCode: http.StatusOK, Header: http.Header{}, Body: body}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

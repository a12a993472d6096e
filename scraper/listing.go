package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-tululu/parser"
)

// Paginator walks the listing pages of one category.
type Paginator struct {
	fetcher PageFetcher
	metrics *Metrics

	pageCount   int
	failedPages []int
}

// NewPaginator builds a paginator over fetcher. metrics may be nil.
func NewPaginator(fetcher PageFetcher, metrics *Metrics) *Paginator {
	return &Paginator{
		fetcher: fetcher,
		metrics: metrics,
	}
}

// LastPageNumber returns the number of listing pages in the category.
// A category without a pagination control has a single page.
func (p *Paginator) LastPageNumber(ctx context.Context, categoryURL string) (int, error) {
	resp, err := p.fetcher.Fetch(ctx, pageURL(categoryURL, 1), nil)
	if err != nil {
		return 0, fmt.Errorf("fetch first listing page: %w", err)
	}
	last, ok, err := parser.ParseLastPage(string(resp.Body))
	if err != nil {
		return 0, fmt.Errorf("parse pagination: %w", err)
	}
	if !ok {
		return 1, nil
	}
	return last, nil
}

// BookIDs collects book ids from pages startPage up to, but not including,
// endPage. Pages that fail with an HTTP status, a redirect or missing content
// are logged and skipped; ids keep page order and are not deduplicated.
func (p *Paginator) BookIDs(ctx context.Context, categoryURL string, startPage, endPage int) ([]string, error) {
	ids := []string{}
	for page := startPage; page < endPage; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target := pageURL(categoryURL, page)
		slog.Info("fetching listing page", slog.String("url", target))
		p.pageCount++

		pageIDs, err := p.pageBookIDs(ctx, target)
		if err != nil {
			if !IsContained(err) {
				return nil, fmt.Errorf("listing page %d: %w", page, err)
			}
			p.failedPages = append(p.failedPages, page)
			p.metrics.IncError(errorTypeLabel(err))
			slog.Error("listing page skipped",
				slog.Int("page", page),
				slog.String("category", errorTypeLabel(err)),
				slog.Any("error", err),
			)
			continue
		}

		ids = append(ids, pageIDs...)
		slog.Debug("listing page parsed", slog.Int("page", page), slog.Int("books", len(pageIDs)))
	}
	return ids, nil
}

// PageCount is the number of listing pages requested so far.
func (p *Paginator) PageCount() int {
	return p.pageCount
}

// FailedPages lists the pages skipped so far.
func (p *Paginator) FailedPages() []int {
	out := make([]int, len(p.failedPages))
	copy(out, p.failedPages)
	return out
}

func (p *Paginator) pageBookIDs(ctx context.Context, target string) ([]string, error) {
	resp, err := p.fetcher.Fetch(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return parser.ParseBookIDs(string(resp.Body))
}

func pageURL(categoryURL string, page int) string {
	return strings.TrimSuffix(categoryURL, "/") + "/" + strconv.Itoa(page)
}

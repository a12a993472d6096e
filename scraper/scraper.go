package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-tululu/config"
	"github.com/aluiziolira/go-scrape-tululu/models"
	"github.com/aluiziolira/go-scrape-tululu/parser"
)

// Scraper drives a run: it walks the listing, then fetches, parses and
// downloads each book one at a time.
type Scraper struct {
	cfg        *config.Config
	base       *url.URL
	fetcher    PageFetcher
	paginator  *Paginator
	downloader *Downloader
	Metrics    *Metrics
}

type fetchCounters interface {
	RequestCount() int
	RetryCount() int
}

// NewScraper builds a scraper instance configured from cfg. metrics may be nil.
func NewScraper(cfg *config.Config, fetcher PageFetcher, metrics *Metrics) (*Scraper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	downloader, err := NewDownloader(fetcher, cfg.ExistenceCacheSize)
	if err != nil {
		return nil, err
	}

	return &Scraper{
		cfg:        cfg,
		base:       parsed,
		fetcher:    fetcher,
		paginator:  NewPaginator(fetcher, metrics),
		downloader: downloader,
		Metrics:    metrics,
	}, nil
}

// Scrape resolves the page range, collects book ids and runs them.
func (s *Scraper) Scrape(ctx context.Context) ([]*models.Book, *models.RunResult, error) {
	start := time.Now()
	categoryURL := s.cfg.CategoryURL()

	last, err := s.paginator.LastPageNumber(ctx, categoryURL)
	if err != nil {
		return nil, nil, err
	}
	endPage := last
	if s.cfg.EndPage > 0 && s.cfg.EndPage < endPage {
		endPage = s.cfg.EndPage
	}
	if s.cfg.StartPage > endPage {
		slog.Warn("start page is past the last listing page",
			slog.Int("start_page", s.cfg.StartPage),
			slog.Int("last_page", last),
		)
	}
	slog.Info("listing range resolved",
		slog.String("category", categoryURL),
		slog.Int("start_page", s.cfg.StartPage),
		slog.Int("end_page", endPage),
		slog.Int("last_page", last),
	)

	ids, err := s.paginator.BookIDs(ctx, categoryURL, s.cfg.StartPage, endPage+1)
	if err != nil {
		return nil, nil, err
	}

	books, result, err := s.Run(ctx, ids)
	if result != nil {
		result.StartTime = start
		result.PageCount = s.paginator.PageCount()
		result.FailedPages = s.paginator.FailedPages()
	}
	return books, result, err
}

// Run processes ids in order. Books that fail with an HTTP status, a redirect,
// unparseable markup or a bad id are logged and skipped. Any other error
// stops the run and is returned together with the books recorded so far.
func (s *Scraper) Run(ctx context.Context, ids []string) ([]*models.Book, *models.RunResult, error) {
	result := &models.RunResult{
		StartTime:    time.Now(),
		Requested:    len(ids),
		FailedIDs:    []string{},
		ErrorsByType: make(map[string]int),
	}
	books := make([]*models.Book, 0, len(ids))

	var runErr error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		book, err := s.processBook(ctx, id)
		if err != nil {
			if !IsContained(err) {
				runErr = fmt.Errorf("book %s: %w", id, err)
				break
			}
			category := errorTypeLabel(err)
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, id)
			result.ErrorsByType[category]++
			s.Metrics.IncError(category)
			slog.Error("book skipped",
				slog.String("id", id),
				slog.String("category", category),
				slog.Any("error", err),
			)
			continue
		}

		books = append(books, book)
		s.Metrics.IncBooks()
		slog.Info("book saved",
			slog.Int("id", book.ID),
			slog.String("title", book.Title),
			slog.String("text", book.TextPath),
			slog.String("cover", book.CoverPath),
		)
	}

	result.Recorded = len(books)
	result.EndTime = time.Now()
	if counters, ok := s.fetcher.(fetchCounters); ok {
		result.RequestCount = counters.RequestCount()
		result.RetryCount = counters.RetryCount()
	}

	slog.Info("run finished",
		slog.Int("requested", result.Requested),
		slog.Int("recorded", result.Recorded),
		slog.Int("failed", result.Failed),
	)
	return books, result, runErr
}

func (s *Scraper) processBook(ctx context.Context, rawID string) (*models.Book, error) {
	id, err := strconv.Atoi(strings.TrimSpace(rawID))
	if err != nil || id <= 0 {
		return nil, &InvalidBookIDError{ID: rawID}
	}

	resp, err := s.fetcher.Fetch(ctx, s.bookURL(id), nil)
	if err != nil {
		return nil, err
	}

	book, err := parser.ParseBookPage(string(resp.Body))
	if err != nil {
		return nil, err
	}
	book.ID = id
	if err := parser.ValidateBook(book); err != nil {
		slog.Warn("book heading incomplete", slog.Int("id", id), slog.Any("error", err))
	}

	if book.CoverURL != "" {
		cover, err := s.resolve(book.CoverURL)
		if err != nil {
			return nil, err
		}
		book.CoverURL = cover
	}

	if !s.cfg.SkipText {
		path, err := s.downloader.DownloadText(ctx, s.textURL(), id, book.Title, s.cfg.BooksPath())
		if err != nil {
			return nil, err
		}
		book.TextPath = path
	}

	if !s.cfg.SkipImages && book.CoverURL != "" {
		path, err := s.downloader.DownloadImage(ctx, book.CoverURL, s.cfg.ImagesPath())
		if err != nil {
			return nil, err
		}
		book.CoverPath = path
	}

	return book, nil
}

func (s *Scraper) bookURL(id int) string {
	return s.base.ResolveReference(&url.URL{Path: fmt.Sprintf("/b%d/", id)}).String()
}

func (s *Scraper) textURL() string {
	return s.base.ResolveReference(&url.URL{Path: "/txt.php"}).String()
}

func (s *Scraper) resolve(src string) (string, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return "", &parser.UnparseableHTMLError{Selector: "cover src", Reason: err.Error()}
	}
	return s.base.ResolveReference(ref).String(), nil
}

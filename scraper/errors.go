package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/aluiziolira/go-scrape-tululu/parser"
)

// ErrRetriesExhausted is returned when a bounded retry policy gives up on a
// transient fault. It is the only fetch failure that aborts a run.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrNoFilename indicates an artifact URL without a usable file name.
var ErrNoFilename = errors.New("url has no file name")

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a 4xx or 5xx response. It is never retried.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d (%s) for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// RedirectNotAllowed is a 3xx response. The site answers missing books with a
// redirect to its front page, so a redirect means "does not exist".
type RedirectNotAllowed struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *RedirectNotAllowed) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("redirect not allowed: %s -> %s (%d)", e.URL, e.Location, e.StatusCode)
	}
	return fmt.Sprintf("redirect not allowed: %s (%d)", e.URL, e.StatusCode)
}

// InvalidBookIDError is a listing entry that is not a positive integer.
type InvalidBookIDError struct {
	ID string
}

func (e *InvalidBookIDError) Error() string {
	return fmt.Sprintf("invalid book id %q", e.ID)
}

// classifyError wraps transport failures into ErrTimeout or ErrConnection.
// Anything else is returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	// A peer that hangs up before answering surfaces as a bare EOF or reset.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return ErrConnection{Err: err}
	}
	return err
}

// isTransient reports whether err should be retried with backoff.
func isTransient(err error) bool {
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	return errors.As(err, &conn)
}

// IsContained reports whether err only affects the current page or book.
// Contained errors are logged and skipped; anything else ends the run.
func IsContained(err error) bool {
	if err == nil {
		return false
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return true
	}
	var redirect *RedirectNotAllowed
	if errors.As(err, &redirect) {
		return true
	}
	var unparseable *parser.UnparseableHTMLError
	if errors.As(err, &unparseable) {
		return true
	}
	var invalidID *InvalidBookIDError
	if errors.As(err, &invalidID) {
		return true
	}
	return errors.Is(err, ErrNoFilename)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return "retries_exhausted"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var status *HTTPStatusError
	if errors.As(err, &status) {
		return "http_status"
	}
	var redirect *RedirectNotAllowed
	if errors.As(err, &redirect) {
		return "redirect"
	}
	var unparseable *parser.UnparseableHTMLError
	if errors.As(err, &unparseable) {
		return "unparseable"
	}
	var invalidID *InvalidBookIDError
	if errors.As(err, &invalidID) {
		return "invalid_id"
	}
	if errors.Is(err, ErrNoFilename) {
		return "no_filename"
	}
	return "other"
}

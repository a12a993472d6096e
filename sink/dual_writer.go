package sink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-tululu/models"
)

// DualWriter exports the same records as a JSON snapshot and a CSV table.
type DualWriter struct {
	mu      sync.Mutex
	targets []namedWriter
}

type namedWriter struct {
	format string
	OutputWriter
}

// NewDualWriter opens the CSV file at csvPath and prepares the JSON snapshot
// at jsonPath. Nothing is left open when either fails.
func NewDualWriter(csvPath, jsonPath string) (*DualWriter, error) {
	table, err := NewCSVWriter(csvPath)
	if err != nil {
		return nil, fmt.Errorf("csv export: %w", err)
	}
	snapshot, err := NewJSONWriter(jsonPath)
	if err != nil {
		table.Close()
		return nil, fmt.Errorf("json snapshot: %w", err)
	}
	return &DualWriter{
		targets: []namedWriter{
			{format: "csv", OutputWriter: table},
			{format: "json", OutputWriter: snapshot},
		},
	}, nil
}

// Write hands books to every format, stopping at the first failure.
func (dw *DualWriter) Write(books []*models.Book) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	for _, target := range dw.targets {
		if err := target.Write(books); err != nil {
			return fmt.Errorf("%s write: %w", target.format, err)
		}
	}
	return nil
}

// Close closes every format even if one of them fails.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return dw.each(OutputWriter.Close, "close")
}

// Validate checks both output files.
func (dw *DualWriter) Validate() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return dw.each(OutputWriter.Validate, "validate")
}

func (dw *DualWriter) each(op func(OutputWriter) error, verb string) error {
	var errs []error
	for _, target := range dw.targets {
		if err := op(target.OutputWriter); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", target.format, verb, err))
		}
	}
	return errors.Join(errs...)
}

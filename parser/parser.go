// Package parser extracts book data from tululu.org HTML without doing any I/O.
package parser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-tululu/models"
)

// UnparseableHTMLError reports a page lacking a structure the scraper requires.
type UnparseableHTMLError struct {
	Selector string
	Reason   string
}

func (e *UnparseableHTMLError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unparseable html: %s: %s", e.Selector, e.Reason)
	}
	return fmt.Sprintf("unparseable html: %s not found", e.Selector)
}

const contentSelector = "div#content"

func newDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// content returns the main content region, or nil when the page has none.
func content(doc *goquery.Document) *goquery.Selection {
	sel := doc.Find(contentSelector).First()
	if sel.Length() == 0 {
		return nil
	}
	return sel
}

// ValidateBook reports whether the extractor captured the heading fields.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("book %d missing title", b.ID)
	}
	if strings.TrimSpace(b.Author) == "" {
		return fmt.Errorf("book missing author for %s", b.Title)
	}
	return nil
}

package parser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-tululu/models"
)

const (
	headingSelector = "h1"
	coverSelector   = "table.d_book div.bookimage img"
	genresSelector  = "span.d_book"
	commentSelector = "div.texts"
	commentBody     = "span.black"

	titleSeparator = "::"
)

// ParseBookPage extracts a detail page into a Book. ID and the file paths are
// left for the caller; CoverURL holds the raw, usually site-relative, src.
//
// Only a missing content region is an error. A missing heading yields blank
// title and author, a missing genres tag an empty list, and comment blocks
// without a body are skipped.
func ParseBookPage(html string) (*models.Book, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	root := content(doc)
	if root == nil {
		return nil, &UnparseableHTMLError{Selector: contentSelector}
	}

	book := &models.Book{
		Genres:   []string{},
		Comments: []string{},
	}

	if heading := root.Find(headingSelector).First(); heading.Length() > 0 {
		book.Title, book.Author = SplitHeading(heading.Text())
	}

	if src, ok := root.Find(coverSelector).First().Attr("src"); ok {
		book.CoverURL = strings.TrimSpace(src)
	}

	if tag := root.Find(genresSelector).First(); tag.Length() > 0 {
		tag.Find("a").Each(func(_ int, link *goquery.Selection) {
			book.Genres = append(book.Genres, strings.TrimSpace(link.Text()))
		})
	}

	root.Find(commentSelector).Each(func(_ int, block *goquery.Selection) {
		body := block.Find(commentBody).First()
		if body.Length() == 0 {
			return
		}
		book.Comments = append(book.Comments, body.Text())
	})

	return book, nil
}

// SplitHeading splits "Title :: Author" on the first separator.
func SplitHeading(heading string) (title, author string) {
	before, after, found := strings.Cut(heading, titleSeparator)
	if !found {
		return strings.TrimSpace(heading), ""
	}
	return strings.TrimSpace(before), strings.TrimSpace(after)
}

package parser

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	paginationSelector = "p"
	bookLinkSelector   = "table.d_book tr td .bookimage a"
)

// ParseLastPage reads the pagination control of a category page. ok is false
// when the page has no pagination, meaning the category fits on one page.
func ParseLastPage(html string) (last int, ok bool, err error) {
	doc, err := newDocument(html)
	if err != nil {
		return 0, false, err
	}
	root := content(doc)
	if root == nil {
		return 0, false, &UnparseableHTMLError{Selector: contentSelector}
	}

	paging := root.Find(paginationSelector).Last().Find("a").Last()
	if paging.Length() == 0 {
		return 0, false, nil
	}
	text := strings.TrimSpace(paging.Text())
	last, err = strconv.Atoi(text)
	if err != nil || last <= 0 {
		return 0, false, &UnparseableHTMLError{
			Selector: "pagination link",
			Reason:   "page number " + strconv.Quote(text),
		}
	}
	return last, true, nil
}

// ParseBookIDs returns the book ids linked from a category page, in document order.
func ParseBookIDs(html string) ([]string, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	root := content(doc)
	if root == nil {
		return nil, &UnparseableHTMLError{Selector: contentSelector}
	}

	ids := []string{}
	root.Find(bookLinkSelector).Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		if id := BookIDFromHref(href); id != "" {
			ids = append(ids, id)
		}
	})
	return ids, nil
}

// BookIDFromHref turns "/b239/" into "239".
func BookIDFromHref(href string) string {
	id := strings.TrimSpace(href)
	id = strings.TrimLeft(id, "/")
	id = strings.TrimPrefix(id, "b")
	return strings.TrimSuffix(id, "/")
}

package extract

import (
	"iter"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"go-book-download/internal/models"
)

// ParseSearchResults parses a catalog search page using DefaultLayout.
func ParseSearchResults(page string) (iter.Seq[models.Record], error) {
	return defaultExtractor.SearchResults(page)
}

// SearchResults returns the records of a search page as a lazy sequence.
// Records are built while ranging and each range walks the parsed page again.
// Rows that do not carry an id or a title are skipped.
func (e *Extractor) SearchResults(page string) (iter.Seq[models.Record], error) {
	if e.Layout.NoResultsMarker != "" && strings.Contains(page, e.Layout.NoResultsMarker) {
		return nil, ErrNotFound
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, &ParseError{Selector: "html", Err: err}
	}

	rows := doc.Find(e.Layout.ResultsTable).First().Find("tr")
	return func(yield func(models.Record) bool) {
		for i := range rows.Length() {
			rec, ok := e.parseRow(rows.Eq(i))
			if !ok {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}, nil
}

func (e *Extractor) parseRow(row *goquery.Selection) (models.Record, bool) {
	cells := row.Find("td")
	if cells.Length() < e.Layout.MinCells {
		return models.Record{}, false
	}

	first := cells.Eq(0)
	href, _ := first.Find("a[href]").First().Attr("href")
	id := lastPathSegment(href)
	if id == "" {
		return models.Record{}, false
	}

	cell := func(i int) string {
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	rec := models.Record{
		ID:           id,
		Title:        cell(e.Layout.TitleCell),
		Author:       cell(e.Layout.AuthorCell),
		Publisher:    cell(e.Layout.PublisherCell),
		Year:         cell(e.Layout.YearCell),
		Language:     cell(e.Layout.LanguageCell),
		Format:       strings.ToLower(cell(e.Layout.FormatCell)),
		Size:         cell(e.Layout.SizeCell),
		DownloadURLs: []string{},
	}
	if rec.Title == "" {
		return models.Record{}, false
	}
	if src, ok := first.Find("img").First().Attr("src"); ok {
		rec.Preview = src
	}
	return rec, true
}

// lastPathSegment returns the final "/" separated segment of a link,
// ignoring any query string or fragment.
func lastPathSegment(href string) string {
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	href = strings.TrimSpace(href)
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return href
}

package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"go-book-download/internal/models"
)

// ParseDetailPage parses a catalog detail page using DefaultLayout.
func ParseDetailPage(page, id string) (models.Record, error) {
	return defaultExtractor.DetailPage(page, id)
}

// DetailPage extracts the full record for id from a detail page.
// Only a missing content container or an empty title is an error;
// every other field degrades to its empty value.
func (e *Extractor) DetailPage(page, id string) (models.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return models.Record{}, &ParseError{ID: id, Selector: "html", Err: err}
	}

	container := doc.Find(e.Layout.DetailContainer).First()
	if container.Length() == 0 {
		return models.Record{}, &ParseError{ID: id, Selector: e.Layout.DetailContainer}
	}

	rec := models.Record{ID: id, DownloadURLs: []string{}}
	if src, ok := container.Find("img[src]").First().Attr("src"); ok {
		rec.Preview = src
	}

	divs := container.Find("div")
	textAt := func(i int) string {
		if i < 0 || i >= divs.Length() {
			return ""
		}
		return strings.TrimSpace(divs.Eq(i).Text())
	}

	start := e.infoStart(divs)
	rec.Format, rec.Size = parseFormatLine(textAt(start - 1))
	rec.Title = strings.TrimSpace(strings.ReplaceAll(textAt(start), e.Layout.InfoMarker, ""))
	rec.Publisher = textAt(start + 1)
	rec.Author = textAt(start + 2)
	if rec.Title == "" {
		return models.Record{}, &ParseError{ID: id, Selector: e.Layout.DetailContainer + " div (title)"}
	}

	rec.Info = collectPairs(divs, start+3)
	if v := lookupFold(rec.Info, e.Layout.LanguageKey); v != "" {
		rec.Language = v
	}
	if v := lookupFold(rec.Info, e.Layout.YearKey); v != "" {
		rec.Year = v
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if href, _ := a.Attr("href"); strings.TrimSpace(href) != "" {
			rec.DownloadURLs = append(rec.DownloadURLs, strings.TrimSpace(href))
		}
	})

	return rec, nil
}

// infoStart finds the innermost div carrying the marker glyph.
// Without a marker the fixed fallback offset is used.
func (e *Extractor) infoStart(divs *goquery.Selection) int {
	start := e.Layout.FallbackStart
	if e.Layout.InfoMarker == "" {
		return start
	}
	divs.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), e.Layout.InfoMarker) {
			return true
		}
		inner := s.Find("div").FilterFunction(func(_ int, d *goquery.Selection) bool {
			return strings.Contains(d.Text(), e.Layout.InfoMarker)
		})
		if inner.Length() > 0 {
			return true
		}
		start = i
		return false
	})
	return start
}

// parseFormatLine reads a line shaped like "English [en], .epub, 1.5MB, name.epub".
// The format is the text between the first period and the next comma;
// the size is the first comma separated token starting with a digit.
func parseFormatLine(line string) (format, size string) {
	if _, after, ok := strings.Cut(line, "."); ok {
		f, _, _ := strings.Cut(after, ",")
		format = strings.ToLower(strings.TrimSpace(f))
	}
	for _, tok := range strings.Split(line, ",") {
		tok = strings.TrimSpace(tok)
		if r, _ := utf8.DecodeRuneInString(tok); tok != "" && unicode.IsDigit(r) {
			size = tok
			break
		}
	}
	return format, size
}

// collectPairs reads key/value pairs from divs[from:]. A pair is a div whose
// only element children are two leaf divs or two spans.
func collectPairs(divs *goquery.Selection, from int) map[string][]string {
	info := make(map[string][]string)
	for i := max(from, 0); i < divs.Length(); i++ {
		kids := divs.Eq(i).Children()
		if kids.Length() != 2 {
			continue
		}
		keyNode, valNode := kids.Eq(0), kids.Eq(1)
		tag := goquery.NodeName(keyNode)
		if tag != goquery.NodeName(valNode) || (tag != "div" && tag != "span") {
			continue
		}
		if keyNode.Find("div").Length() > 0 || valNode.Find("div").Length() > 0 {
			continue
		}
		key := strings.TrimSpace(keyNode.Text())
		value := strings.TrimSpace(valNode.Text())
		if key == "" || value == "" {
			continue
		}
		info[key] = append(info[key], value)
	}
	return info
}

func lookupFold(info map[string][]string, key string) string {
	if key == "" {
		return ""
	}
	if v := info[key]; len(v) > 0 {
		return v[0]
	}
	for k, v := range info {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailPage = `<html><body><main><div>
  <div><img src="/covers/dune.jpg"></div>
  <div>Cover note</div>
  <div>English [en], .EPUB, 1.5MB, dune.epub</div>
  <div>Dune <span>🔍</span></div>
  <div>Ace Books</div>
  <div>Frank Herbert</div>
  <div>
    <div><div>Language</div><div>English</div></div>
    <div><span>ISBN-13</span><span>9780441013593</span></div>
    <div><span>ISBN-13</span><span>9780441172719</span></div>
    <div><div>Year</div><div>1965</div></div>
    <div><span>Empty</span><span> </span></div>
  </div>
  <a href="https://mirror-a.example/dl/1">Mirror A</a>
  <a href="/slow_download/abc/0/0">Slow</a>
</div></main>
<footer><a href="https://mirror-b.example/get?id=1">Mirror B</a><a>no href</a></footer>
</body></html>`

func TestParseDetailPage_MarkerLayout(t *testing.T) {
	rec, err := ParseDetailPage(detailPage, "abc")
	require.NoError(t, err)

	assert.Equal(t, "abc", rec.ID)
	assert.Equal(t, "/covers/dune.jpg", rec.Preview)
	assert.Equal(t, "epub", rec.Format)
	assert.Equal(t, "1.5MB", rec.Size)
	assert.Equal(t, "Dune", rec.Title)
	assert.Equal(t, "Ace Books", rec.Publisher)
	assert.Equal(t, "Frank Herbert", rec.Author)
	assert.Equal(t, "English", rec.Language)
	assert.Equal(t, "1965", rec.Year)

	assert.Equal(t, []string{"9780441013593", "9780441172719"}, rec.Info["ISBN-13"])
	assert.Equal(t, []string{"English"}, rec.Info["Language"])
	assert.NotContains(t, rec.Info, "Empty")

	assert.Equal(t, []string{
		"https://mirror-a.example/dl/1",
		"/slow_download/abc/0/0",
		"https://mirror-b.example/get?id=1",
	}, rec.DownloadURLs)
}

func TestParseDetailPage_FallbackOffset(t *testing.T) {
	page := `<html><body><main><div>
  <div>a</div>
  <div>b</div>
  <div>German [de], .pdf, 12.3MB</div>
  <div>Der Process</div>
  <div>Verlag</div>
  <div>Franz Kafka</div>
  <div><span>year</span><span>1925</span></div>
</div></main></body></html>`

	rec, err := ParseDetailPage(page, "kafka")
	require.NoError(t, err)
	assert.Equal(t, "pdf", rec.Format)
	assert.Equal(t, "12.3MB", rec.Size)
	assert.Equal(t, "Der Process", rec.Title)
	assert.Equal(t, "Verlag", rec.Publisher)
	assert.Equal(t, "Franz Kafka", rec.Author)
	assert.Equal(t, "1925", rec.Year)
	assert.Empty(t, rec.Language)
	assert.Empty(t, rec.Preview)
	assert.Empty(t, rec.DownloadURLs)
}

func TestParseDetailPage_MissingContainer(t *testing.T) {
	_, err := ParseDetailPage("<html><body><p>gone</p></body></html>", "missing-id")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "missing-id", perr.ID)
	assert.Equal(t, DefaultLayout.DetailContainer, perr.Selector)
}

func TestParseDetailPage_TooFewDivs(t *testing.T) {
	// Nothing may panic on truncated pages.
	_, err := ParseDetailPage(`<html><body><main><div><div>only one</div></div></main></body></html>`, "short")
	assert.ErrorIs(t, err, ErrParse)

	rec, err := ParseDetailPage(`<html><body><main><div><div>Title only 🔍</div></div></main></body></html>`, "first")
	require.NoError(t, err)
	assert.Equal(t, "Title only", rec.Title)
	assert.Empty(t, rec.Format)
	assert.Empty(t, rec.Author)
}

func TestParseFormatLine(t *testing.T) {
	tests := []struct {
		line       string
		wantFormat string
		wantSize   string
	}{
		{"English [en], .epub, 1.5MB, book.epub", "epub", "1.5MB"},
		{"English [en], .MOBI, 700KB", "mobi", "700KB"},
		{"no period, 3MB", "", "3MB"},
		{"", "", ""},
		{"English [en], .azw3", "azw3", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			format, size := parseFormatLine(tt.line)
			assert.Equal(t, tt.wantFormat, format)
			assert.Equal(t, tt.wantSize, size)
		})
	}
}

func TestCustomLayout(t *testing.T) {
	layout := DefaultLayout
	layout.NoResultsMarker = "Nothing here"
	ex := New(layout)

	_, err := ex.SearchResults("<html><body>Nothing here</body></html>")
	assert.ErrorIs(t, err, ErrNotFound)

	// The default marker no longer applies.
	seq, err := ex.SearchResults("<html><body>No files found.</body></html>")
	require.NoError(t, err)
	assert.NotNil(t, seq)
}

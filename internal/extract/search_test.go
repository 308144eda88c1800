package extract

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchRow(id, title string) string {
	return fmt.Sprintf(`<tr>
<td><a href="/md5/%s"><img src="/covers/%s.jpg"></a></td>
<td>%s</td><td>Author</td><td>Publisher</td><td>2020</td>
<td></td><td></td><td>English</td><td></td><td>EPUB</td><td>1.5MB</td>
</tr>`, id, id, title)
}

func searchPage(rows ...string) string {
	return "<html><body><table>" + strings.Join(rows, "\n") + "</table></body></html>"
}

func TestParseSearchResults_SingleRow(t *testing.T) {
	seq, err := ParseSearchResults(searchPage(searchRow("book1", "Book Title")))
	require.NoError(t, err)

	records := slices.Collect(seq)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "book1", rec.ID)
	assert.Equal(t, "Book Title", rec.Title)
	assert.Equal(t, "Author", rec.Author)
	assert.Equal(t, "Publisher", rec.Publisher)
	assert.Equal(t, "2020", rec.Year)
	assert.Equal(t, "English", rec.Language)
	assert.Equal(t, "epub", rec.Format)
	assert.Equal(t, "1.5MB", rec.Size)
	assert.Equal(t, "/covers/book1.jpg", rec.Preview)
	assert.Empty(t, rec.DownloadURLs)
}

func TestParseSearchResults_SkipsShortAndBrokenRows(t *testing.T) {
	short := `<tr><td><a href="/md5/short">x</a></td><td>Short</td><td>a</td><td>b</td><td>c</td></tr>`
	noLink := `<tr><td>no link</td><td>T</td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td></tr>`
	trailingSlash := `<tr><td><a href="/md5/">x</a></td><td>T</td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td></tr>`
	emptyTitle := searchRow("notitle", "")

	seq, err := ParseSearchResults(searchPage(short, searchRow("ok1", "First"), noLink, trailingSlash, emptyTitle, searchRow("ok2", "Second")))
	require.NoError(t, err)

	var ids []string
	for rec := range seq {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"ok1", "ok2"}, ids)
}

func TestParseSearchResults_IDIgnoresQueryString(t *testing.T) {
	row := strings.Replace(searchRow("abc", "Title"), "/md5/abc", "/md5/abc?ref=search#top", 1)
	seq, err := ParseSearchResults(searchPage(row))
	require.NoError(t, err)

	records := slices.Collect(seq)
	require.Len(t, records, 1)
	assert.Equal(t, "abc", records[0].ID)
}

func TestParseSearchResults_NotFound(t *testing.T) {
	seq, err := ParseSearchResults("<html><body><p>No files found.</p><table>" + searchRow("x", "y") + "</table></body></html>")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, seq)
}

func TestParseSearchResults_EmptyTable(t *testing.T) {
	seq, err := ParseSearchResults(searchPage())
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(seq))

	seq, err = ParseSearchResults("<html><body><p>no table at all</p></body></html>")
	require.NoError(t, err)
	assert.Empty(t, slices.Collect(seq))
}

func TestParseSearchResults_Restartable(t *testing.T) {
	seq, err := ParseSearchResults(searchPage(searchRow("a", "A"), searchRow("b", "B"), searchRow("c", "C")))
	require.NoError(t, err)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)

	// Stopping early must not disturb later ranges.
	for rec := range seq {
		assert.Equal(t, "a", rec.ID)
		break
	}
	assert.Len(t, slices.Collect(seq), 3)
}

func TestParseSearchResults_OnlyFirstTable(t *testing.T) {
	page := "<html><body><table>" + searchRow("first", "First") + "</table><table>" + searchRow("second", "Second") + "</table></body></html>"
	seq, err := ParseSearchResults(page)
	require.NoError(t, err)

	records := slices.Collect(seq)
	require.Len(t, records, 1)
	assert.Equal(t, "first", records[0].ID)
}

func TestLastPathSegment(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"/md5/abc", "abc"},
		{"https://catalog.example/md5/abc", "abc"},
		{"abc", "abc"},
		{"/md5/abc/", ""},
		{"", ""},
		{"/md5/abc?x=1", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, lastPathSegment(tt.href))
		})
	}
}

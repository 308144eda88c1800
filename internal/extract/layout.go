package extract

// Layout pins every structural assumption made about catalog pages.
// When the catalog markup changes, add a new Layout rather than editing the parsers.
type Layout struct {
	Version string

	// Search results page
	NoResultsMarker string
	ResultsTable    string
	MinCells        int
	TitleCell       int
	AuthorCell      int
	PublisherCell   int
	YearCell        int
	LanguageCell    int
	FormatCell      int
	SizeCell        int

	// Detail page
	DetailContainer string
	InfoMarker      string
	FallbackStart   int
	LanguageKey     string
	YearKey         string
}

// DefaultLayout matches the table display of the catalog search page
// and the md5 detail page.
var DefaultLayout = Layout{
	Version: "table-v1",

	NoResultsMarker: "No files found.",
	ResultsTable:    "table",
	MinCells:        11,
	TitleCell:       1,
	AuthorCell:      2,
	PublisherCell:   3,
	YearCell:        4,
	LanguageCell:    7,
	FormatCell:      9,
	SizeCell:        10,

	DetailContainer: "body > main > div:nth-of-type(1)",
	InfoMarker:      "🔍",
	FallbackStart:   3,
	LanguageKey:     "Language",
	YearKey:         "Year",
}

// Extractor parses catalog pages according to one Layout.
type Extractor struct {
	Layout Layout
}

// New returns an Extractor for the given layout.
func New(layout Layout) *Extractor {
	return &Extractor{Layout: layout}
}

var defaultExtractor = New(DefaultLayout)

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"go-book-download/internal/extract"
	"go-book-download/internal/models"
)

// Custom Error Types
var (
	ErrNotFound    = errors.New("catalog resource not found")
	ErrTransport   = errors.New("catalog transport failure")
	ErrHTTPStatus  = errors.New("unexpected catalog HTTP status")
	ErrRateLimited = errors.New("catalog rate limit exceeded")
)

const DefaultBaseURL = "https://annas-archive.org"

// maxPageSize bounds how much of a catalog page is read into memory.
const maxPageSize = 16 << 20

// Client fetches and parses catalog pages.
type Client struct {
	BaseURL    string
	HttpClient *http.Client
	UserAgent  string

	formats   []string
	languages []string
	limiter   *rate.Limiter
	extractor *extract.Extractor
}

// NewClient creates a catalog client from the loaded configuration.
func NewClient(httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.CatalogBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		BaseURL:    baseURL,
		HttpClient: httpClient,
		UserAgent:  cfg.UserAgent,
		formats:    slices.Clone(cfg.SupportedFormats),
		languages:  slices.Clone(cfg.BookLanguages),
		limiter:    rate.NewLimiter(limit, 1),
		extractor:  extract.New(extract.DefaultLayout),
	}
}

// SearchURL builds the table-display search URL for query, restricted to the
// configured formats and languages.
func (c *Client) SearchURL(query string) string {
	values := url.Values{}
	values.Set("index", "")
	values.Set("page", "1")
	values.Set("display", "table")
	values.Add("acc", "aa_download")
	values.Add("acc", "external_download")
	values.Set("sort", "")
	for _, f := range c.formats {
		values.Add("ext", f)
	}
	for _, l := range c.languages {
		values.Add("lang", l)
	}
	values.Set("q", query)
	return fmt.Sprintf("%s/search?%s", c.BaseURL, values.Encode())
}

// BookURL returns the detail page URL for id.
func (c *Client) BookURL(id string) string {
	return fmt.Sprintf("%s/md5/%s", c.BaseURL, url.PathEscape(id))
}

// SearchBooks runs a catalog search. A search without results returns an
// error matching ErrNotFound.
func (c *Client) SearchBooks(ctx context.Context, query string) ([]models.Record, error) {
	page, err := c.fetchPage(ctx, c.SearchURL(query))
	if err != nil {
		return nil, err
	}

	seq, err := c.extractor.SearchResults(page)
	if err != nil {
		if errors.Is(err, extract.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w for %q", ErrNotFound, err, query)
		}
		return nil, err
	}

	records := make([]models.Record, 0)
	for rec := range seq {
		records = append(records, rec)
	}
	log.WithFields(log.Fields{"query": query, "results": len(records)}).Debug("Catalog search parsed")
	return records, nil
}

// GetBookInfo fetches and parses the detail page of id.
func (c *Client) GetBookInfo(ctx context.Context, id string) (models.Record, error) {
	page, err := c.fetchPage(ctx, c.BookURL(id))
	if err != nil {
		return models.Record{}, err
	}
	rec, err := c.extractor.DetailPage(page, id)
	if err != nil {
		log.WithError(err).WithField("id", id).Warn("Failed to parse detail page")
		return models.Record{}, err
	}
	return rec, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: waiting for rate limiter: %w", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating request for %s: %w", ErrTransport, pageURL, err)
	}
	req.Header.Set("Accept", "text/html")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, pageURL)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w (status code 429)", ErrRateLimited)
	default:
		return "", fmt.Errorf("%w: %d from %s", ErrHTTPStatus, resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return "", fmt.Errorf("%w: reading body of %s: %w", ErrTransport, pageURL, err)
	}
	return string(body), nil
}

package index

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"go-book-download/internal/models"
)

const defaultIndexPath = "library.bleve"

// Item is one acquired title in the library index.
// Fields are searchable by their JSON names, e.g. '+author:herbert' or 'isbn:9780441013593'.
type Item struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Author     string    `json:"author,omitempty"`
	Publisher  string    `json:"publisher,omitempty"`
	Year       string    `json:"year,omitempty"`
	Language   string    `json:"language,omitempty"`
	Format     string    `json:"format,omitempty"`
	Size       string    `json:"size,omitempty"`
	ISBN       []string  `json:"isbn,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	FilePath   string    `json:"filePath,omitempty"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	Blake3     string    `json:"blake3,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// ItemFromRecord builds an index item from a record and where it was stored.
// Info values under ISBN keys become isbn; all other info values become tags,
// both in key order.
func ItemFromRecord(rec models.Record, filePath, sourceURL, blake3Sum string, acquiredAt time.Time) Item {
	item := Item{
		ID:         rec.ID,
		Type:       "book",
		Title:      rec.Title,
		Author:     rec.Author,
		Publisher:  rec.Publisher,
		Year:       rec.Year,
		Language:   rec.Language,
		Format:     rec.Format,
		Size:       rec.Size,
		FilePath:   filePath,
		SourceURL:  sourceURL,
		Blake3:     blake3Sum,
		AcquiredAt: acquiredAt,
	}
	for _, key := range slices.Sorted(maps.Keys(rec.Info)) {
		values := rec.Info[key]
		if strings.HasPrefix(strings.ToUpper(key), "ISBN") {
			item.ISBN = append(item.ISBN, values...)
			continue
		}
		item.Tags = append(item.Tags, values...)
	}
	return item
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		log.Infof("Creating new library index at: %s", indexPath)
		index, err = bleve.New(indexPath, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index %s: %w", indexPath, err)
		}
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", indexPath, err)
	}
	log.Debugf("Opened existing library index at: %s", indexPath)
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a query string search against the index.
func SearchIndex(index bleve.Index, query string, size int) (*bleve.SearchResult, error) {
	searchRequest := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	searchRequest.Fields = []string{"*"}
	if size > 0 {
		searchRequest.Size = size
	}
	return index.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting library index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}

// Library is the open index of acquired titles.
type Library struct {
	index bleve.Index
}

// OpenLibrary opens or creates the library index at path.
func OpenLibrary(path string) (*Library, error) {
	idx, err := OpenOrCreateIndex(path)
	if err != nil {
		return nil, err
	}
	return &Library{index: idx}, nil
}

// Add indexes an acquired record.
func (l *Library) Add(item Item) error {
	if err := IndexItem(l.index, item); err != nil {
		return fmt.Errorf("indexing %s: %w", item.ID, err)
	}
	return nil
}

// Search runs a query against the library.
func (l *Library) Search(query string, size int) (*bleve.SearchResult, error) {
	return SearchIndex(l.index, query, size)
}

// Close closes the underlying index.
func (l *Library) Close() error {
	return l.index.Close()
}

package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"

	"go-book-download/internal/models"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// historyPrefix namespaces acquisition history entries.
const historyPrefix = "book_"

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db *bitcask.Bitcask
	mu sync.RWMutex
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path,
		bitcask.WithMaxKeySize(512),
		bitcask.WithMaxValueSize(4<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("History database opened at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.mu.RLock()
	value, err := d.db.Get(key)
	d.mu.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}
	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.mu.Lock()
	err = d.db.Put(key, compressedValue)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.mu.Lock()
	err := d.db.Delete(key)
	d.mu.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs with decompressed values.
// Entries that cannot be read are skipped with a warning.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.db.Fold(func(key []byte) error {
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}
		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}
		return fn(key, value)
	})
}

// --- Acquisition history ---

// PutHistory stores the latest outcome for entry.ID, replacing any earlier one.
func (d *DB) PutHistory(entry models.HistoryEntry) error {
	if entry.ID == "" {
		return errors.New("cannot store history entry without id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshalling history entry for %s: %w", entry.ID, err)
	}
	return d.Put([]byte(historyPrefix+entry.ID), data)
}

// GetHistory returns the stored outcome for id.
func (d *DB) GetHistory(id string) (models.HistoryEntry, error) {
	data, err := d.Get([]byte(historyPrefix + id))
	if err != nil {
		return models.HistoryEntry{}, err
	}
	var entry models.HistoryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return models.HistoryEntry{}, fmt.Errorf("error unmarshalling history entry %s: %w", id, err)
	}
	return entry, nil
}

// HasHistory reports whether an outcome is stored for id.
func (d *DB) HasHistory(id string) bool {
	return d.Has([]byte(historyPrefix + id))
}

// DeleteHistory forgets the stored outcome for id.
func (d *DB) DeleteHistory(id string) error {
	return d.Delete([]byte(historyPrefix + id))
}

// ListHistory returns every history entry, newest first.
func (d *DB) ListHistory() ([]models.HistoryEntry, error) {
	return d.filterHistory(func(models.HistoryEntry) bool { return true })
}

// SearchHistory returns entries whose title or author contains query, case-insensitively.
func (d *DB) SearchHistory(query string) ([]models.HistoryEntry, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return d.filterHistory(func(e models.HistoryEntry) bool {
		return strings.Contains(strings.ToLower(e.Title), q) || strings.Contains(strings.ToLower(e.Author), q)
	})
}

func (d *DB) filterHistory(keep func(models.HistoryEntry) bool) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	err := d.Fold(func(key []byte, value []byte) error {
		if !bytes.HasPrefix(key, []byte(historyPrefix)) {
			return nil
		}
		var entry models.HistoryEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			log.WithError(err).Warnf("Skipping unreadable history entry %s", string(key))
			return nil
		}
		if keep(entry) {
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning history: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}
	gReader, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		log.WithError(err).Warn("Error creating gzip reader for value, returning raw data.")
		return value, nil
	}
	defer gReader.Close()

	decompressedValue, err := io.ReadAll(gReader)
	if err != nil {
		log.WithError(err).Warn("Error decompressing value, returning raw data.")
		return value, nil
	}
	return decompressedValue, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err := gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	if err := gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}
	return buf.Bytes(), nil
}

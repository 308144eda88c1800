package models

import (
	"maps"
	"slices"
	"time"
)

type (
	Config struct {
		// Catalog
		CatalogBaseURL   string   `toml:"CatalogBaseURL" validate:"required,url"`
		SupportedFormats []string `toml:"SupportedFormats" validate:"min=1,dive,required"`
		BookLanguages    []string `toml:"BookLanguages"`
		UserAgent        string   `toml:"UserAgent"`

		// Paths
		TmpDir              string `toml:"TmpDir" validate:"required"`
		IngestDir           string `toml:"IngestDir" validate:"required"`
		HistoryDatabasePath string `toml:"HistoryDatabasePath"`
		LibraryIndexPath    string `toml:"LibraryIndexPath"`

		// Queue
		StatusTimeoutHours float64 `toml:"StatusTimeoutHours" validate:"gte=0"`
		Workers            int     `toml:"Workers" validate:"min=1"`
		PollIntervalMs     int     `toml:"PollIntervalMs" validate:"min=10"`

		// HTTP
		ListenAddr          string   `toml:"ListenAddr" validate:"required"`
		CorsOrigins         []string `toml:"CorsOrigins"`
		ApiClientTimeoutSec int      `toml:"ApiClientTimeoutSec" validate:"min=1"`
		DownloadTimeoutSec  int      `toml:"DownloadTimeoutSec" validate:"min=1"`
		RequestsPerSecond   float64  `toml:"RequestsPerSecond" validate:"gte=0"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// Record is the normalized metadata of one catalog title.
	// Optional fields are empty strings when the page did not carry them.
	Record struct {
		ID           string              `json:"id"`
		Title        string              `json:"title"`
		Preview      string              `json:"preview,omitempty"`
		Author       string              `json:"author,omitempty"`
		Publisher    string              `json:"publisher,omitempty"`
		Year         string              `json:"year,omitempty"`
		Language     string              `json:"language,omitempty"`
		Format       string              `json:"format,omitempty"`
		Size         string              `json:"size,omitempty"`
		Info         map[string][]string `json:"info,omitempty"`
		DownloadURLs []string            `json:"download_urls"`
	}

	// Job is the tracked lifecycle state of one requested title.
	Job struct {
		ID        string      `json:"id"`
		Status    QueueStatus `json:"status"`
		UpdatedAt time.Time   `json:"updated_at"`
		Record    Record      `json:"record"`
	}

	// StatusSnapshot groups every tracked record by its current status.
	StatusSnapshot map[QueueStatus]map[string]Record

	// StatusMessage is pushed to websocket clients on every job transition.
	StatusMessage struct {
		Type      string      `json:"type"`
		ID        string      `json:"id"`
		Status    QueueStatus `json:"status"`
		Title     string      `json:"title,omitempty"`
		Detail    string      `json:"detail,omitempty"`
		Timestamp time.Time   `json:"timestamp"`
	}

	// HistoryEntry is the persisted outcome of one acquisition attempt.
	HistoryEntry struct {
		ID          string      `json:"id"`
		Title       string      `json:"title"`
		Author      string      `json:"author,omitempty"`
		Format      string      `json:"format,omitempty"`
		Status      QueueStatus `json:"status"`
		SourceURL   string      `json:"source_url,omitempty"`
		Path        string      `json:"path,omitempty"`
		Bytes       int64       `json:"bytes,omitempty"`
		Blake3      string      `json:"blake3,omitempty"`
		ErrorDetail string      `json:"error_detail,omitempty"`
		Timestamp   time.Time   `json:"timestamp"`
	}
)

type QueueStatus string

const (
	StatusQueued      QueueStatus = "queued"
	StatusDownloading QueueStatus = "downloading"
	StatusAvailable   QueueStatus = "available"
	StatusError       QueueStatus = "error"
	StatusDone        QueueStatus = "done"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []QueueStatus{StatusQueued, StatusDownloading, StatusAvailable, StatusError, StatusDone}

// Valid reports whether s is one of the known statuses.
func (s QueueStatus) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	if r.Info != nil {
		out.Info = make(map[string][]string, len(r.Info))
		for k, v := range r.Info {
			out.Info[k] = slices.Clone(v)
		}
	}
	out.DownloadURLs = slices.Clone(r.DownloadURLs)
	return out
}

// NewStatusSnapshot returns a snapshot with an empty bucket for every status.
func NewStatusSnapshot() StatusSnapshot {
	snap := make(StatusSnapshot, len(AllStatuses))
	for _, s := range AllStatuses {
		snap[s] = make(map[string]Record)
	}
	return snap
}

// Count returns the number of records across all buckets.
func (s StatusSnapshot) Count() int {
	n := 0
	for _, bucket := range s {
		n += len(bucket)
	}
	return n
}

// IDs returns the sorted ids of one bucket.
func (s StatusSnapshot) IDs(status QueueStatus) []string {
	return slices.Sorted(maps.Keys(s[status]))
}

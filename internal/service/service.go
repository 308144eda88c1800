package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"go-book-download/index"
	"go-book-download/internal/api"
	"go-book-download/internal/downloader"
	"go-book-download/internal/helpers"
	"go-book-download/internal/ingest"
	"go-book-download/internal/models"
	"go-book-download/internal/queue"
)

var (
	// ErrNotAvailable is returned for local downloads of jobs that are not available.
	ErrNotAvailable = errors.New("book is not available")
	// ErrInvalidID is returned for ids that cannot be used as file names.
	ErrInvalidID = errors.New("invalid book id")
)

// Catalog looks titles up in the external catalog.
type Catalog interface {
	SearchBooks(ctx context.Context, query string) ([]models.Record, error)
	GetBookInfo(ctx context.Context, id string) (models.Record, error)
}

// Fetcher stages a record's artifact locally.
type Fetcher interface {
	Fetch(ctx context.Context, rec models.Record) (downloader.Result, error)
}

// History records acquisition outcomes.
type History interface {
	PutHistory(entry models.HistoryEntry) error
}

// Library indexes acquired titles.
type Library interface {
	Add(item index.Item) error
}

// Notifier receives every job transition made by the service.
type Notifier interface {
	Broadcast(msg models.StatusMessage)
}

// Options wires a Service. Catalog, Queue, Fetcher and Ingest are required.
type Options struct {
	Catalog  Catalog
	Queue    *queue.Manager
	Fetcher  Fetcher
	Ingest   *ingest.Watcher
	History  History
	Library  Library
	Notifier Notifier

	Workers         int
	PollInterval    time.Duration
	DownloadTimeout time.Duration
}

// Service glues the catalog, queue, downloader and ingest directory together.
type Service struct {
	catalog  Catalog
	queue    *queue.Manager
	fetcher  Fetcher
	ingest   *ingest.Watcher
	history  History
	library  Library
	notifier Notifier

	workers         int
	pollInterval    time.Duration
	downloadTimeout time.Duration
	wake            chan struct{}
	now             func() time.Time
}

// New creates a Service from opts.
func New(opts Options) *Service {
	s := &Service{
		catalog:         opts.Catalog,
		queue:           opts.Queue,
		fetcher:         opts.Fetcher,
		ingest:          opts.Ingest,
		history:         opts.History,
		library:         opts.Library,
		notifier:        opts.Notifier,
		workers:         opts.Workers,
		pollInterval:    opts.PollInterval,
		downloadTimeout: opts.DownloadTimeout,
		wake:            make(chan struct{}, 1),
		now:             time.Now,
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.pollInterval <= 0 {
		s.pollInterval = time.Second
	}
	return s
}

// Search queries the catalog. A search without results is an empty list.
func (s *Service) Search(ctx context.Context, query string) ([]models.Record, error) {
	records, err := s.catalog.SearchBooks(ctx, query)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			log.WithField("query", query).Info("Catalog search returned no results")
			return []models.Record{}, nil
		}
		return nil, err
	}
	return records, nil
}

// Info returns the full record for id.
func (s *Service) Info(ctx context.Context, id string) (models.Record, error) {
	if _, err := helpers.SafeID(id); err != nil {
		return models.Record{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return s.catalog.GetBookInfo(ctx, id)
}

// Enqueue resolves id in the catalog and queues it for download.
func (s *Service) Enqueue(ctx context.Context, id string) (bool, error) {
	rec, err := s.Info(ctx, id)
	if err != nil {
		log.WithError(err).WithField("id", id).Warn("Could not queue book")
		return false, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	s.queue.Add(id, rec)
	s.notify(id, models.StatusQueued, rec, "")
	select {
	case s.wake <- struct{}{}:
	default:
	}
	log.WithFields(log.Fields{"id": id, "title": rec.Title}).Info("Book queued")
	return true, nil
}

// Status returns the refreshed queue snapshot.
func (s *Service) Status() models.StatusSnapshot {
	return s.queue.GetStatus()
}

// LocalFile is an ingest artifact opened for reading.
type LocalFile struct {
	File *os.File
	Size int64
	Name string
}

// LocalDownload opens the ingest artifact of an available job.
// The caller closes the returned file.
func (s *Service) LocalDownload(id string) (LocalFile, error) {
	job, ok := s.queue.Job(id)
	if !ok || job.Status != models.StatusAvailable {
		return LocalFile{}, fmt.Errorf("%w: %s", ErrNotAvailable, id)
	}
	f, size, err := s.ingest.Open(job.Record)
	if err != nil {
		if errors.Is(err, ingest.ErrNotPresent) {
			return LocalFile{}, fmt.Errorf("%w: %v", ErrNotAvailable, err)
		}
		return LocalFile{}, err
	}
	name := helpers.ConvertToSlug(job.Record.Title)
	if name == "" {
		name = id
	}
	return LocalFile{File: f, Size: size, Name: name + "." + ingest.IngestFormat}, nil
}

func (s *Service) notify(id string, status models.QueueStatus, rec models.Record, detail string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Broadcast(models.StatusMessage{
		Type:      "status",
		ID:        id,
		Status:    status,
		Title:     rec.Title,
		Detail:    detail,
		Timestamp: s.now(),
	})
}

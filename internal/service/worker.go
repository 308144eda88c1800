package service

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-book-download/index"
	"go-book-download/internal/models"
)

// Run starts the download workers and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Infof("Starting %d download worker(s), polling every %s", s.workers, s.pollInterval)
	var wg sync.WaitGroup
	for i := range s.workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.workerLoop(ctx, worker)
		}(i + 1)
	}
	wg.Wait()
	log.Info("Download workers stopped")
}

func (s *Service) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	log.Debugf("Worker %d started", worker)

	for {
		for ctx.Err() == nil && s.ProcessNext(ctx) {
		}
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// ProcessNext claims the oldest queued job and runs it to completion.
// It reports false when nothing was pending.
func (s *Service) ProcessNext(ctx context.Context) bool {
	id, ok := s.queue.GetNext()
	if !ok {
		return false
	}
	s.process(ctx, id)
	return true
}

func (s *Service) process(ctx context.Context, id string) {
	logger := log.WithField("id", id)

	job, ok := s.queue.Job(id)
	if !ok {
		logger.Debug("Claimed job no longer tracked")
		return
	}
	if job.Status != models.StatusQueued {
		logger.Debugf("Skipping claimed job in status %s", job.Status)
		return
	}
	if !s.queue.UpdateStatus(id, models.StatusDownloading) {
		return
	}
	s.notify(id, models.StatusDownloading, job.Record, "")
	logger.Infof("Downloading %q", job.Record.Title)

	fetchCtx := ctx
	if s.downloadTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.downloadTimeout)
		defer cancel()
	}

	res, err := s.fetcher.Fetch(fetchCtx, job.Record)
	if err != nil {
		s.fail(id, job.Record, err)
		return
	}

	finalPath, err := s.ingest.Publish(res.Path, job.Record)
	if err != nil {
		s.fail(id, job.Record, err)
		return
	}

	s.queue.UpdateStatus(id, models.StatusAvailable)
	s.notify(id, models.StatusAvailable, job.Record, "")
	logger.Infof("Book available at %s", finalPath)

	now := s.now()
	s.recordHistory(models.HistoryEntry{
		ID:        id,
		Title:     job.Record.Title,
		Author:    job.Record.Author,
		Format:    job.Record.Format,
		Status:    models.StatusAvailable,
		SourceURL: res.URL,
		Path:      finalPath,
		Bytes:     res.Bytes,
		Blake3:    res.Blake3,
		Timestamp: now,
	})
	if s.library != nil {
		if err := s.library.Add(index.ItemFromRecord(job.Record, finalPath, res.URL, res.Blake3, now)); err != nil {
			logger.WithError(err).Warn("Failed to index acquired book")
		}
	}
}

func (s *Service) fail(id string, rec models.Record, err error) {
	log.WithError(err).WithField("id", id).Error("Download failed")
	s.queue.UpdateStatus(id, models.StatusError)
	s.notify(id, models.StatusError, rec, err.Error())
	s.recordHistory(models.HistoryEntry{
		ID:          id,
		Title:       rec.Title,
		Author:      rec.Author,
		Format:      rec.Format,
		Status:      models.StatusError,
		ErrorDetail: err.Error(),
		Timestamp:   s.now(),
	})
}

func (s *Service) recordHistory(entry models.HistoryEntry) {
	if s.history == nil {
		return
	}
	if err := s.history.PutHistory(entry); err != nil {
		log.WithError(err).WithField("id", entry.ID).Warn("Failed to record history")
	}
}

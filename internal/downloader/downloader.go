package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"go-book-download/internal/helpers"
	"go-book-download/internal/models"
)

// Custom Downloader Errors
var (
	ErrAllMirrorsFailed = errors.New("all download mirrors failed")
	ErrNoCandidates     = errors.New("record has no usable download URLs")
	ErrUnsafeID         = errors.New("unsafe record id")
	ErrHttpStatus       = errors.New("unexpected HTTP status code")
	ErrEmptyBody        = errors.New("empty response body")
	ErrFileSystem       = errors.New("filesystem error") // Covers create, remove, rename
	ErrHttpRequest      = errors.New("HTTP request creation/execution error")
)

// ProgressFunc is called once per attempt. A non-nil writer receives a copy
// of every byte read from that mirror.
type ProgressFunc func(rawURL string, contentLength int64) io.Writer

// Result describes a staged artifact.
type Result struct {
	Path   string
	URL    string
	Bytes  int64
	Blake3 string
}

// Downloader fetches a record from its mirrors into the staging directory.
type Downloader struct {
	client     *http.Client
	stagingDir string
	baseURL    *url.URL
	userAgent  string
	progress   ProgressFunc
}

// NewDownloader creates a Downloader staging files in stagingDir.
// Relative mirror links are resolved against baseURL when it parses.
func NewDownloader(client *http.Client, stagingDir, baseURL, userAgent string) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	d := &Downloader{
		client:     client,
		stagingDir: stagingDir,
		userAgent:  userAgent,
	}
	if u, err := url.Parse(baseURL); err == nil && u.Scheme != "" && u.Host != "" {
		d.baseURL = u
	} else if baseURL != "" {
		log.Warnf("Ignoring unparsable catalog base URL %q for mirror resolution", baseURL)
	}
	return d
}

// SetProgress installs a per-attempt progress hook.
func (d *Downloader) SetProgress(fn ProgressFunc) {
	d.progress = fn
}

// StagingPath returns <staging-dir>/<id>.<format>.
func (d *Downloader) StagingPath(rec models.Record) (string, error) {
	name, err := helpers.ArtifactName(rec.ID, rec.Format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafeID, err)
	}
	return filepath.Join(d.stagingDir, name), nil
}

// CandidateURLs returns the record's mirror links in order, absolute,
// http(s) only and without duplicates.
func (d *Downloader) CandidateURLs(rec models.Record) []string {
	seen := make(map[string]struct{}, len(rec.DownloadURLs))
	out := make([]string, 0, len(rec.DownloadURLs))
	for _, raw := range rec.DownloadURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Debugf("Skipping unparsable mirror link %q", raw)
			continue
		}
		if !u.IsAbs() {
			if d.baseURL == nil || u.Path == "" {
				continue
			}
			u = d.baseURL.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		u.Fragment = ""
		s := u.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Fetch tries each candidate URL in order and stops at the first one that
// returns a non-empty 200 response. Failed attempts are logged and skipped.
func (d *Downloader) Fetch(ctx context.Context, rec models.Record) (Result, error) {
	finalPath, err := d.StagingPath(rec)
	if err != nil {
		return Result{}, err
	}
	candidates := d.CandidateURLs(rec)
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("%w: %w for %s", ErrAllMirrorsFailed, ErrNoCandidates, rec.ID)
	}
	if !helpers.CheckAndMakeDir(d.stagingDir) {
		return Result{}, fmt.Errorf("%w: failed to create staging directory %s", ErrFileSystem, d.stagingDir)
	}

	logger := log.WithField("id", rec.ID)
	var lastErr error
	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		logger.Infof("Trying mirror %d/%d: %s", i+1, len(candidates), candidate)
		n, err := d.fetchOne(ctx, candidate, finalPath)
		if err != nil {
			logger.WithError(err).Warnf("Mirror %s failed", candidate)
			lastErr = err
			continue
		}

		res := Result{Path: finalPath, URL: candidate, Bytes: n}
		if sum, err := helpers.FileBlake3(finalPath); err != nil {
			logger.WithError(err).Warn("Could not hash staged artifact")
		} else {
			res.Blake3 = sum
		}
		logger.Infof("Staged %s (%s) from %s", finalPath, helpers.BytesToSize(uint64(n)), candidate)
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: %d candidate(s) for %s, last error: %w", ErrAllMirrorsFailed, len(candidates), rec.ID, lastErr)
}

// fetchOne downloads rawURL into a temp file next to finalPath and renames it into place.
func (d *Downloader) fetchOne(ctx context.Context, rawURL, finalPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: creating request for %s: %w", ErrHttpRequest, rawURL, err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: performing request for %s: %w", ErrHttpRequest, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: received status %d from %s", ErrHttpStatus, resp.StatusCode, rawURL)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(finalPath), filepath.Base(finalPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: creating temporary file for %s: %w", ErrFileSystem, finalPath, err)
	}
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			tempFile.Close()
			if removeErr := os.Remove(tempFile.Name()); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				log.WithError(removeErr).Warnf("Failed to remove temporary file %s", tempFile.Name())
			}
		}
	}()

	counter := &helpers.CounterWriter{Writer: tempFile}
	var dst io.Writer = counter
	if d.progress != nil {
		if pw := d.progress(rawURL, resp.ContentLength); pw != nil {
			dst = io.MultiWriter(counter, pw)
		}
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return 0, fmt.Errorf("%w: writing temporary file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if counter.Total == 0 {
		return 0, fmt.Errorf("%w from %s", ErrEmptyBody, rawURL)
	}
	if err := tempFile.Close(); err != nil {
		return 0, fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tempFile.Name(), err)
	}
	if err := os.Rename(tempFile.Name(), finalPath); err != nil {
		return 0, fmt.Errorf("%w: renaming temporary file %s to %s: %w", ErrFileSystem, tempFile.Name(), finalPath, err)
	}
	shouldCleanupTemp = false
	return int64(counter.Total), nil
}

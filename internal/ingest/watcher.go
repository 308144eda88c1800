package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"go-book-download/internal/helpers"
	"go-book-download/internal/models"
)

// ErrNotPresent is returned when an ingest artifact does not exist.
var ErrNotPresent = errors.New("artifact not present in ingest directory")

// Watcher owns the ingest directory. An artifact that disappears from it has
// been picked up by the external ingest process.
type Watcher struct {
	dir string
}

// NewWatcher returns a Watcher for dir.
func NewWatcher(dir string) *Watcher {
	return &Watcher{dir: dir}
}

// Dir returns the ingest directory.
func (w *Watcher) Dir() string { return w.dir }

// IngestFormat is the extension of every published artifact, whatever the staged format.
const IngestFormat = "epub"

// ArtifactPath returns <ingest-dir>/<id>.epub.
func (w *Watcher) ArtifactPath(id string) (string, error) {
	name, err := helpers.ArtifactName(id, IngestFormat)
	if err != nil {
		return "", err
	}
	return filepath.Join(w.dir, name), nil
}

// ArtifactExists implements queue.ArtifactChecker. Filesystem errors other
// than "not exist" are logged and reported as absent.
func (w *Watcher) ArtifactExists(id string, rec models.Record) bool {
	path, err := w.ArtifactPath(id)
	if err != nil {
		log.WithError(err).WithField("id", id).Warn("Refusing to check artifact for unsafe id")
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).WithField("path", path).Warn("Error checking ingest artifact")
		}
		return false
	}
	return info.Mode().IsRegular()
}

// Publish moves a staged file into the ingest directory and returns its final path.
func (w *Watcher) Publish(stagedPath string, rec models.Record) (string, error) {
	dest, err := w.ArtifactPath(rec.ID)
	if err != nil {
		return "", err
	}
	if !helpers.CheckAndMakeDir(w.dir) {
		return "", fmt.Errorf("creating ingest directory %s", w.dir)
	}

	// Staging and ingest may live on different filesystems.
	if renameErr := os.Rename(stagedPath, dest); renameErr != nil {
		log.WithError(renameErr).Debugf("Rename into ingest dir failed, copying %s", stagedPath)
		if err := copyFile(stagedPath, dest); err != nil {
			return "", err
		}
		if err := os.Remove(stagedPath); err != nil {
			log.WithError(err).Warnf("Failed to remove staged file %s after copy", stagedPath)
		}
	}
	log.WithFields(log.Fields{"id": rec.ID, "path": dest}).Info("Published artifact")
	return dest, nil
}

// Open returns the artifact for reading together with its size.
func (w *Watcher) Open(rec models.Record) (*os.File, int64, error) {
	path, err := w.ArtifactPath(rec.ID)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotPresent, path)
		}
		return nil, 0, fmt.Errorf("opening artifact %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact %s: %w", path, err)
	}
	return f, info.Size(), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening staged file %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", filepath.Dir(dest), err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming %s to %s: %w", tmp.Name(), dest, err)
	}
	return nil
}

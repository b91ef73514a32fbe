// Package media is the file storage used by the application for uploaded
// media. Files land on local disk first; in production every change is
// queued so the drain engine can replay it against the bucket.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"s3sync/internal/domain"
	"s3sync/internal/pending"
)

var ErrInvalidName = errors.New("invalid media name")

type Config struct {
	Root string
	// LocalBaseURL serves files straight from Root.
	LocalBaseURL string
	// BucketBaseURL is the public URL of the bucket prefix.
	BucketBaseURL string
	Production    bool

	Fs     afero.Fs
	Logger *logrus.Logger
}

type Storage struct {
	queue  *pending.Queue
	cfg    Config
	fs     afero.Fs
	logger *logrus.Logger
}

func New(queue *pending.Queue, cfg Config) *Storage {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Storage{
		queue:  queue,
		cfg:    cfg,
		fs:     cfg.Fs,
		logger: cfg.Logger,
	}
}

// Clean normalizes name into a slash separated key below the root.
func Clean(name string) (string, error) {
	cleaned := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return cleaned, nil
}

func (s *Storage) localPath(name string) string {
	return filepath.Join(s.cfg.Root, filepath.FromSlash(name))
}

func (s *Storage) Exists(name string) (bool, error) {
	name, err := Clean(name)
	if err != nil {
		return false, err
	}
	return afero.Exists(s.fs, s.localPath(name))
}

// create opens a new file for name. While the name is taken a short random
// suffix is added before the extension, so concurrent saves never share a file.
func (s *Storage) create(name string) (string, afero.File, error) {
	dir, file := path.Split(name)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)

	if err := s.fs.MkdirAll(filepath.Dir(s.localPath(name)), 0o755); err != nil {
		return "", nil, fmt.Errorf("%w: %w", domain.ErrLocalIO, err)
	}

	candidate := name
	for {
		f, err := s.fs.OpenFile(s.localPath(candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return candidate, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, candidate, err)
		}
		candidate = dir + base + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:7] + ext
	}
}

// Save stores r under name and returns the name actually used. In production
// a file that could not be queued is removed again, so every stored file is
// either queued or reported as failed.
func (s *Storage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	name, err := Clean(name)
	if err != nil {
		return "", err
	}
	name, file, err := s.create(name)
	if err != nil {
		return "", err
	}
	dst := s.localPath(name)

	_, err = io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.discard(dst)
		return "", fmt.Errorf("%w: write %s: %w", domain.ErrLocalIO, name, err)
	}

	log := s.logger.WithField("name", name)
	if !s.cfg.Production {
		log.Debug("Saved")
		return name, nil
	}
	if err := s.queue.EnqueueUpload(ctx, name); err != nil {
		s.discard(dst)
		return "", err
	}
	log.Debug("Saved and queued for upload")
	return name, nil
}

func (s *Storage) discard(dst string) {
	if err := s.fs.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.WithError(err).WithField("path", dst).Warn("Removing unsaved file failed")
	}
}

// Delete removes the local file. In production the bucket copy is queued
// for removal unless it never got there.
func (s *Storage) Delete(ctx context.Context, name string) error {
	name, err := Clean(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(s.localPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %w", domain.ErrLocalIO, name, err)
	}
	if !s.cfg.Production {
		return nil
	}

	queued, err := s.queue.EnqueueDelete(ctx, name)
	if err != nil {
		return err
	}
	log := s.logger.WithField("name", name)
	if queued {
		log.Debug("Queued for bucket removal")
	} else {
		log.Debug("Dropped from upload queue")
	}
	return nil
}

// URL points at the local copy while the file waits for upload or outside
// production, and at the bucket otherwise.
func (s *Storage) URL(ctx context.Context, name string) (string, error) {
	name, err := Clean(name)
	if err != nil {
		return "", err
	}
	if !s.cfg.Production {
		return joinURL(s.cfg.LocalBaseURL, name), nil
	}
	pendingUpload, err := s.queue.IsPending(ctx, name)
	if err != nil {
		return "", err
	}
	if pendingUpload {
		return joinURL(s.cfg.LocalBaseURL, name), nil
	}
	return joinURL(s.cfg.BucketBaseURL, name), nil
}

func joinURL(base, name string) string {
	escaped := (&url.URL{Path: name}).EscapedPath()
	if base == "" {
		return escaped
	}
	return strings.TrimRight(base, "/") + "/" + escaped
}

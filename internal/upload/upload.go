// Package upload puts single local files into the bucket with the
// content headers a static media host needs.
package upload

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"s3sync/internal/domain"
	"s3sync/internal/storage"
)

const (
	// Bodies at or below this size are never compressed.
	GzipThreshold = 1024
	// FarFuture is how long uploaded objects may be cached.
	FarFuture = 2 * 365 * 24 * time.Hour
)

var gzipContentTypes = map[string]struct{}{
	"text/css":                 {},
	"application/javascript":   {},
	"application/x-javascript": {},
	"text/javascript":          {},
}

// Options toggles the optional header work done for one upload.
type Options struct {
	Compress     bool
	CacheHeaders bool
}

type Config struct {
	Bucket string
	Fs     afero.Fs
	Logger *logrus.Logger
	Now    func() time.Time
}

// Uploader reads a local file into memory and writes it as a public object.
type Uploader struct {
	store  storage.Service
	bucket string
	fs     afero.Fs
	logger *logrus.Logger
	now    func() time.Time
}

func New(store storage.Service, cfg Config) *Uploader {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Uploader{
		store:  store,
		bucket: cfg.Bucket,
		fs:     cfg.Fs,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// Upload stores localPath under key. Read failures wrap domain.ErrLocalIO,
// store rejections are *domain.RemoteError.
func (u *Uploader) Upload(ctx context.Context, key, localPath string, opts Options) error {
	data, err := afero.ReadFile(u.fs, localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLocalIO, err)
	}

	in, err := BuildPut(u.bucket, key, localPath, data, opts, u.now())
	if err != nil {
		return err
	}
	if in.ContentEncoding != "" {
		u.logger.WithField("key", key).Debugf("gzipped: %dk to %dk", len(data)/1024, len(in.Body)/1024)
	}

	if err := u.store.PutObject(ctx, in); err != nil {
		return err
	}
	return u.store.SetPublicRead(ctx, u.bucket, key)
}

// BuildPut assembles the object write for data read from localPath.
func BuildPut(bucket, key, localPath string, data []byte, opts Options, now time.Time) (storage.PutInput, error) {
	in := storage.PutInput{
		Bucket:      bucket,
		Key:         key,
		Body:        data,
		ContentType: ContentType(localPath),
	}

	if opts.Compress && len(data) > GzipThreshold && Compressible(in.ContentType) {
		compressed, err := Gzip(data)
		if err != nil {
			return storage.PutInput{}, fmt.Errorf("gzip %s: %w", localPath, err)
		}
		in.Body = compressed
		in.ContentEncoding = "gzip"
	}

	if opts.CacheHeaders {
		expires := now.Add(FarFuture).UTC()
		in.Expires = &expires
		in.CacheControl = fmt.Sprintf("max-age=%d", int64(FarFuture/time.Second))
	}

	return in, nil
}

// ContentType guesses the media type from the file extension.
func ContentType(name string) string {
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
}

// Compressible reports whether contentType is CSS or a JavaScript flavour.
func Compressible(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	_, ok := gzipContentTypes[strings.TrimSpace(strings.ToLower(base))]
	return ok
}

func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Package mirror pushes a whole local directory tree to a bucket prefix,
// uploading only files that changed and optionally pruning remote keys
// that no longer exist locally.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"s3sync/internal/domain"
	"s3sync/internal/storage"
	"s3sync/internal/upload"
)

// Uploader is the single-file upload primitive.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string, opts upload.Options) error
}

type Options struct {
	Bucket  string
	Root    string
	Prefix  string
	Exclude []string

	Force         bool
	RemoveMissing bool
	DryRun        bool
	Gzip          bool
	CacheHeaders  bool
}

type Result struct {
	Uploaded int
	Skipped  int
	Removed  int
	Failed   int

	Failures []domain.Failure
}

type Config struct {
	Fs     afero.Fs
	Logger *logrus.Logger
}

type Engine struct {
	store    storage.Service
	uploader Uploader
	fs       afero.Fs
	logger   *logrus.Logger
}

func New(store storage.Service, uploader Uploader, cfg Config) *Engine {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Engine{
		store:    store,
		uploader: uploader,
		fs:       cfg.Fs,
		logger:   cfg.Logger,
	}
}

// walk carries the state of one run across the recursion.
type walk struct {
	opts    Options
	prefix  string
	exclude *Excluder
	// retained holds listed keys not yet matched to a local file.
	retained  map[string]domain.RemoteObject
	processed map[string]struct{}
	result    Result
}

func (w *walk) retain(obj domain.RemoteObject) {
	if _, done := w.processed[obj.Key]; done {
		return
	}
	w.retained[obj.Key] = obj
}

func (w *walk) markProcessed(key string) {
	w.processed[key] = struct{}{}
	delete(w.retained, key)
}

func (w *walk) fail(action, key string, err error) {
	w.result.Failed++
	w.result.Failures = append(w.result.Failures, domain.Failure{Action: action, Key: key, Err: err})
}

// Run mirrors opts.Root into opts.Bucket. Remote failures on single items
// are counted and the run goes on; anything else stops it.
func (e *Engine) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.Bucket == "" {
		return Result{}, domain.MissingConfig("storage.bucket", "set S3SYNC_STORAGE_BUCKET")
	}
	if opts.Root == "" {
		return Result{}, domain.MissingConfig("media.root", "set S3SYNC_MEDIA_ROOT")
	}
	exclude, err := NewExcluder(opts.Exclude)
	if err != nil {
		return Result{}, err
	}

	root := filepath.Clean(opts.Root)
	info, err := e.fs.Stat(root)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", domain.ErrLocalIO, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("%w: %s is not a directory", domain.ErrLocalIO, root)
	}

	if !opts.DryRun {
		if err := e.store.EnsureBucket(ctx, opts.Bucket); err != nil {
			return Result{}, err
		}
	}

	w := &walk{
		opts:      opts,
		prefix:    strings.Trim(opts.Prefix, "/"),
		exclude:   exclude,
		retained:  make(map[string]domain.RemoteObject),
		processed: make(map[string]struct{}),
	}

	e.logger.WithField("bucket", opts.Bucket).Infof("Syncing %s", root)
	if err := e.visit(ctx, w, root, ""); err != nil {
		return w.result, err
	}
	if opts.RemoveMissing {
		if err := e.removeRetained(ctx, w); err != nil {
			return w.result, err
		}
	}
	return w.result, nil
}

// visit handles one directory: its files first, then its subdirectories.
// rel is the slash separated path of dir below the root.
func (e *Engine) visit(ctx context.Context, w *walk, dir, rel string) error {
	if rel != "" {
		if pattern, ok := w.exclude.Match(path.Base(rel)); ok {
			e.logger.Debugf("Skipping %s (rule '%s')", rel, pattern)
			return nil
		}
	}

	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		return fmt.Errorf("%w: read dir %s: %w", domain.ErrLocalIO, dir, err)
	}

	cursor := newListing(e.store.ListObjects(ctx, w.opts.Bucket, domain.JoinKey(w.prefix, rel)))

	var subdirs []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		if pattern, ok := w.exclude.Match(name); ok {
			e.logger.Debugf("Skipping %s (rule '%s')", path.Join(rel, name), pattern)
			continue
		}

		abs := filepath.Join(dir, name)
		if entry.Mode()&os.ModeSymlink != 0 {
			// Linked files are followed, linked directories are not.
			target, err := e.fs.Stat(abs)
			if err != nil || target.IsDir() {
				continue
			}
			entry = target
		}
		if entry.IsDir() {
			subdirs = append(subdirs, name)
			continue
		}
		if !entry.Mode().IsRegular() {
			continue
		}

		file := domain.LocalFile{
			AbsPath: abs,
			Key:     domain.JoinKey(w.prefix, path.Join(rel, name)),
			ModTime: entry.ModTime(),
			Size:    entry.Size(),
		}
		if err := e.syncFile(ctx, w, cursor, file); err != nil {
			return err
		}
	}

	if w.opts.RemoveMissing {
		if err := cursor.drain(ctx, w); err != nil {
			return err
		}
	} else {
		clear(w.retained)
	}

	for _, name := range subdirs {
		if err := e.visit(ctx, w, filepath.Join(dir, name), path.Join(rel, name)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) decide(ctx context.Context, w *walk, cursor *listing, file domain.LocalFile) (domain.Decision, error) {
	if w.opts.Force {
		return domain.DecisionUpload, nil
	}
	remote, found, err := cursor.find(ctx, w, file.Key)
	if err != nil {
		return domain.DecisionUpload, err
	}
	// Bucket timestamps carry whole seconds only, so a file changed within
	// the second of its upload is treated as synced.
	if found && !file.ModTime.UTC().Truncate(time.Second).After(remote.LastModified.UTC()) {
		return domain.DecisionSkip, nil
	}
	return domain.DecisionUpload, nil
}

func (e *Engine) syncFile(ctx context.Context, w *walk, cursor *listing, file domain.LocalFile) error {
	decision, err := e.decide(ctx, w, cursor, file)
	if err != nil {
		return err
	}
	w.markProcessed(file.Key)

	log := e.logger.WithFields(logrus.Fields{"key": file.Key, "decision": decision})
	if decision == domain.DecisionSkip {
		log.Debug("Up to date")
		w.result.Skipped++
		return nil
	}

	log.Infof("Uploading %s...", file.Key)
	if w.opts.DryRun {
		w.result.Uploaded++
		return nil
	}

	err = e.uploader.Upload(ctx, file.Key, file.AbsPath, upload.Options{
		Compress:     w.opts.Gzip,
		CacheHeaders: w.opts.CacheHeaders,
	})
	switch {
	case err == nil:
		w.result.Uploaded++
	case domain.IsRemote(err) && ctx.Err() == nil:
		log.WithError(err).Warn("Upload failed")
		w.fail("upload", file.Key, err)
	default:
		return err
	}
	return nil
}

// removeRetained deletes every remote key that no local file claimed.
// Keys under an excluded name are left alone.
func (e *Engine) removeRetained(ctx context.Context, w *walk) error {
	keys := make([]string, 0, len(w.retained))
	for key := range w.retained {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := e.logger.WithFields(logrus.Fields{"key": key, "decision": domain.DecisionDeleteRemote})
		if w.exclude.Covers(w.relative(key)) {
			log.Debug("Keeping excluded key")
			continue
		}

		log.Infof("Deleting %s...", key)
		if !w.opts.DryRun {
			err := e.store.DeleteObject(ctx, w.opts.Bucket, key)
			if err != nil {
				if domain.IsRemote(err) && ctx.Err() == nil {
					log.WithError(err).Warn("Delete failed")
					w.fail("delete", key, err)
					continue
				}
				return err
			}
		}
		w.result.Removed++
	}
	return nil
}

func (w *walk) relative(key string) string {
	if w.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, w.prefix+"/")
}

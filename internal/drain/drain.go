// Package drain replays the pending queues against the bucket. Entries that
// fail remotely stay queued for the next run.
package drain

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"s3sync/internal/domain"
	"s3sync/internal/pending"
	"s3sync/internal/storage"
	"s3sync/internal/upload"
)

type Uploader interface {
	Upload(ctx context.Context, key, localPath string, opts upload.Options) error
}

type Options struct {
	Bucket string
	Root   string
	Prefix string
	DryRun bool
	// SkipDeletes leaves the delete queue alone.
	SkipDeletes bool
}

type Result struct {
	Uploaded        int
	Remaining       int
	Deleted         int
	RemainingDelete int

	Failures []domain.Failure
}

type Config struct {
	Logger *logrus.Logger
}

type Engine struct {
	store    storage.Service
	uploader Uploader
	queue    *pending.Queue
	logger   *logrus.Logger
}

func New(store storage.Service, uploader Uploader, queue *pending.Queue, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Engine{
		store:    store,
		uploader: uploader,
		queue:    queue,
		logger:   cfg.Logger,
	}
}

// Run drains the upload queue and then, unless skipped, the delete queue.
func (e *Engine) Run(ctx context.Context, opts Options) (Result, error) {
	var res Result
	if opts.Bucket == "" {
		return res, domain.MissingConfig("storage.bucket", "set S3SYNC_STORAGE_BUCKET")
	}
	if opts.Root == "" {
		return res, domain.MissingConfig("media.root", "set S3SYNC_MEDIA_ROOT")
	}

	uploads, deletes, err := e.queue.Snapshot(ctx)
	if err != nil {
		return res, err
	}

	if err := e.uploadPass(ctx, opts, uploads, &res); err != nil {
		return res, err
	}
	if opts.SkipDeletes {
		return res, nil
	}
	if err := e.deletePass(ctx, opts, deletes, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) uploadPass(ctx context.Context, opts Options, entries []pending.Entry, res *Result) error {
	var done []pending.Entry
	settle := func() error {
		if opts.DryRun {
			return nil
		}
		// Finished work is recorded even when the run was cancelled.
		return e.queue.SettleUploads(context.WithoutCancel(ctx), done)
	}
	abort := func(err error) error {
		if serr := settle(); serr != nil {
			e.logger.WithError(serr).Error("Settling upload queue failed")
		}
		return err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		key := domain.JoinKey(opts.Prefix, entry.Key)
		log := e.logger.WithField("key", key)
		log.Infof("Uploading %s...", entry.Key)
		if opts.DryRun {
			res.Uploaded++
			continue
		}

		local := filepath.Join(opts.Root, filepath.FromSlash(entry.Key))
		err := e.uploader.Upload(ctx, key, local, upload.Options{Compress: true, CacheHeaders: true})
		switch {
		case err == nil:
			res.Uploaded++
			done = append(done, entry)
		case domain.IsRemote(err) && ctx.Err() == nil:
			log.WithError(err).Warn("Upload failed, keeping it queued")
			res.Remaining++
			res.Failures = append(res.Failures, domain.Failure{Action: "upload", Key: key, Err: err})
		default:
			return abort(err)
		}
	}
	return settle()
}

func (e *Engine) deletePass(ctx context.Context, opts Options, names []string, res *Result) error {
	var done []string
	settle := func() error {
		if opts.DryRun {
			return nil
		}
		return e.queue.SettleDeletes(context.WithoutCancel(ctx), done)
	}
	abort := func(err error) error {
		if serr := settle(); serr != nil {
			e.logger.WithError(serr).Error("Settling delete queue failed")
		}
		return err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		key := domain.JoinKey(opts.Prefix, name)
		log := e.logger.WithField("key", key)
		log.Infof("Deleting %s...", name)
		if opts.DryRun {
			res.Deleted++
			continue
		}

		err := e.store.DeleteObject(ctx, opts.Bucket, key)
		switch {
		case err == nil:
			res.Deleted++
			done = append(done, name)
		case domain.IsRemote(err) && ctx.Err() == nil:
			log.WithError(err).Warn("Delete failed, keeping it queued")
			res.RemainingDelete++
			res.Failures = append(res.Failures, domain.Failure{Action: "delete", Key: key, Err: err})
		default:
			return abort(err)
		}
	}
	return settle()
}

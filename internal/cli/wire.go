package cli

import (
	"context"

	"s3sync/internal/config"
	"s3sync/internal/domain"
	"s3sync/internal/drain"
	"s3sync/internal/mirror"
	"s3sync/internal/notify"
	"s3sync/internal/pending"
	"s3sync/internal/storage"
	"s3sync/internal/upload"
)

func openS3(ctx context.Context, cfg config.Config) (storage.Service, error) {
	client, err := storage.Connect(ctx, storage.ConnectOptions{
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Host:            cfg.AWS.Host,
		Region:          cfg.AWS.Region,
		Profile:         cfg.AWS.Profile,
	})
	if err != nil {
		return nil, err
	}
	return storage.NewS3Store(client), nil
}

// pendingQueue opens the queue store once per invocation.
func (a *App) pendingQueue() (*pending.Queue, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	store, err := a.OpenCache(a.cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	a.queue = pending.New(store, pending.Config{
		UploadKey: a.cfg.Cache.PendingKey,
		DeleteKey: a.cfg.Cache.PendingDeleteKey,
	})
	return a.queue, nil
}

func (a *App) notifierFor(ctx context.Context) notify.Notifier {
	if a.notifier != nil {
		return a.notifier
	}
	region := a.cfg.Notify.Region
	if region == "" {
		region = a.cfg.AWS.Region
	}
	n, err := notify.New(ctx, notify.Config{
		Topic:           a.cfg.Notify.Topic,
		Region:          region,
		Profile:         a.cfg.AWS.Profile,
		AccessKeyID:     a.cfg.AWS.AccessKeyID,
		SecretAccessKey: a.cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		a.logger.WithError(err).Warn("Notifications disabled")
		n = notify.Nop{}
	}
	a.notifier = n
	return n
}

func (a *App) reportFailures(ctx context.Context, failures []domain.Failure) {
	if len(failures) == 0 {
		return
	}
	if err := a.notifierFor(ctx).NotifyFailures(ctx, a.cfg.Media.Root, a.cfg.Storage.Bucket, failures); err != nil {
		a.logger.WithError(err).Warn("Sending failure notification failed")
	}
}

func (a *App) uploader(store storage.Service) *upload.Uploader {
	return upload.New(store, upload.Config{Bucket: a.cfg.Storage.Bucket, Fs: a.fs, Logger: a.logger})
}

func (a *App) mirrorOptions() mirror.Options {
	return mirror.Options{
		Bucket:        a.cfg.Storage.Bucket,
		Root:          a.cfg.Media.Root,
		Prefix:        a.cfg.Storage.Prefix,
		Exclude:       a.cfg.Sync.Exclude,
		Force:         a.cfg.Sync.Force,
		RemoveMissing: a.cfg.Sync.RemoveMissing,
		DryRun:        a.cfg.Sync.DryRun,
		Gzip:          a.cfg.Sync.Gzip,
		CacheHeaders:  a.cfg.Sync.Expires,
	}
}

// runMirror performs one full-tree sync.
func (a *App) runMirror(ctx context.Context, opts mirror.Options) (mirror.Result, error) {
	if err := a.cfg.ValidateSync(); err != nil {
		return mirror.Result{}, err
	}
	store, err := a.OpenStore(ctx, a.cfg)
	if err != nil {
		return mirror.Result{}, err
	}

	engine := mirror.New(store, a.uploader(store), mirror.Config{Fs: a.fs, Logger: a.logger})
	res, err := engine.Run(ctx, opts)
	if err != nil {
		return res, err
	}
	a.reportFailures(ctx, res.Failures)
	return res, nil
}

func (a *App) drainOptions(skipDeletes bool) drain.Options {
	return drain.Options{
		Bucket:      a.cfg.Storage.Bucket,
		Root:        a.cfg.Media.Root,
		Prefix:      a.cfg.Storage.Prefix,
		DryRun:      a.cfg.Sync.DryRun,
		SkipDeletes: skipDeletes,
	}
}

// runDrain replays the pending queues once.
func (a *App) runDrain(ctx context.Context, opts drain.Options) (drain.Result, error) {
	if err := a.cfg.ValidateSync(); err != nil {
		return drain.Result{}, err
	}
	queue, err := a.pendingQueue()
	if err != nil {
		return drain.Result{}, err
	}
	store, err := a.OpenStore(ctx, a.cfg)
	if err != nil {
		return drain.Result{}, err
	}

	engine := drain.New(store, a.uploader(store), queue, drain.Config{Logger: a.logger})
	res, err := engine.Run(ctx, opts)
	if err != nil {
		return res, err
	}
	a.reportFailures(ctx, res.Failures)
	return res, nil
}

package drain

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3sync/internal/cache"
	"s3sync/internal/domain"
	"s3sync/internal/pending"
	"s3sync/internal/testutil"
	"s3sync/internal/upload"
)

const testRoot = "/srv/media"

type fixture struct {
	fs       afero.Fs
	store    *testutil.FakeStore
	queue    *pending.Queue
	uploader *upload.Uploader
	logger   *logrus.Logger
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs:     afero.NewMemMapFs(),
		store:  testutil.NewFakeStore(),
		queue:  pending.New(cache.NewMemory(), pending.Config{}),
		logger: logrus.New(),
	}
	f.logger.SetLevel(logrus.PanicLevel)
	f.uploader = upload.New(f.store, upload.Config{Bucket: "media-bucket", Fs: f.fs, Logger: f.logger})
	f.engine = New(f.store, f.uploader, f.queue, Config{Logger: f.logger})
	return f
}

func (f *fixture) save(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		testutil.WriteFile(t, f.fs, testRoot, name, []byte(name), time.Time{})
		require.NoError(t, f.queue.EnqueueUpload(context.Background(), name))
	}
}

func (f *fixture) remove(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := f.queue.EnqueueDelete(context.Background(), name)
		require.NoError(t, err)
	}
}

func (f *fixture) pending(t *testing.T) ([]string, []string) {
	t.Helper()
	uploads, deletes, err := f.queue.Snapshot(context.Background())
	require.NoError(t, err)
	keys := make([]string, len(uploads))
	for i, e := range uploads {
		keys[i] = e.Key
	}
	return keys, deletes
}

func opts() Options {
	return Options{Bucket: "media-bucket", Root: testRoot}
}

func TestRunKeepsFailedUploads(t *testing.T) {
	f := newFixture(t)
	f.save(t, "x.jpg", "y.jpg")
	f.store.FailPut["x.jpg"] = true

	res, err := f.engine.Run(context.Background(), opts())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Uploaded)
	assert.Equal(t, 1, res.Remaining)
	uploads, _ := f.pending(t)
	assert.Equal(t, []string{"x.jpg"}, uploads)

	ctx := context.Background()
	stuck, err := f.queue.IsPending(ctx, "x.jpg")
	require.NoError(t, err)
	assert.True(t, stuck)
	done, err := f.queue.IsPending(ctx, "y.jpg")
	require.NoError(t, err)
	assert.False(t, done)

	obj := f.store.Objects["y.jpg"]
	require.NotNil(t, obj)
	assert.True(t, obj.PublicRead)
	assert.Equal(t, "max-age=63072000", obj.Input.CacheControl)
	require.NotNil(t, obj.Input.Expires)
}

func TestRunKeepsFailuresInOrder(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg")
	f.store.FailPut["b.jpg"] = true
	f.store.FailACL["d.jpg"] = true

	res, err := f.engine.Run(context.Background(), opts())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Uploaded)
	assert.Equal(t, 2, res.Remaining)

	uploads, _ := f.pending(t)
	assert.Equal(t, []string{"b.jpg", "d.jpg"}, uploads)

	// A second run repeats exactly the stuck attempts.
	f.store.Puts = nil
	res, err = f.engine.Run(context.Background(), opts())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Uploaded)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, []string{"b.jpg", "d.jpg"}, f.store.PutKeys())
}

func TestRunDrainsDeletes(t *testing.T) {
	f := newFixture(t)
	f.store.Seed("media/old.jpg", time.Now())
	f.store.Seed("media/locked.jpg", time.Now())
	f.store.FailDelete["media/locked.jpg"] = true
	f.remove(t, "old.jpg", "locked.jpg")

	o := opts()
	o.Prefix = "media"
	res, err := f.engine.Run(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 1, res.RemainingDelete)
	assert.Equal(t, []string{"media/old.jpg", "media/locked.jpg"}, f.store.Deletes)
	_, deletes := f.pending(t)
	assert.Equal(t, []string{"locked.jpg"}, deletes)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "delete", res.Failures[0].Action)
	assert.Equal(t, "media/locked.jpg", res.Failures[0].Key)
}

func TestRunCanSkipDeletes(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a.jpg")
	f.remove(t, "old.jpg")

	o := opts()
	o.SkipDeletes = true
	res, err := f.engine.Run(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Uploaded)
	assert.Zero(t, res.Deleted)
	assert.Empty(t, f.store.Deletes)
	_, deletes := f.pending(t)
	assert.Equal(t, []string{"old.jpg"}, deletes)
}

func TestRunUsesPrefixForUploads(t *testing.T) {
	f := newFixture(t)
	f.save(t, "photos/cat.jpg")

	o := opts()
	o.Prefix = "/media/"
	_, err := f.engine.Run(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, []string{"media/photos/cat.jpg"}, f.store.PutKeys())

	g := newFixture(t)
	g.save(t, "cat.jpg")
	_, err = g.engine.Run(context.Background(), opts())
	require.NoError(t, err)
	assert.Equal(t, []string{"cat.jpg"}, g.store.PutKeys())
}

func TestDryRunLeavesEverythingAlone(t *testing.T) {
	f := newFixture(t)
	f.save(t, "x.jpg", "y.jpg")
	f.remove(t, "z.jpg")

	o := opts()
	o.DryRun = true
	res, err := f.engine.Run(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, Result{Uploaded: 2, Deleted: 1}, res)
	assert.Empty(t, f.store.Puts)
	assert.Empty(t, f.store.Deletes)
	uploads, deletes := f.pending(t)
	assert.Equal(t, []string{"x.jpg", "y.jpg"}, uploads)
	assert.Equal(t, []string{"z.jpg"}, deletes)
}

func TestRunAbortsOnMissingLocalFile(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a.jpg")
	require.NoError(t, f.queue.EnqueueUpload(context.Background(), "gone.jpg"))
	f.save(t, "b.jpg")
	f.remove(t, "old.jpg")

	res, err := f.engine.Run(context.Background(), opts())
	require.ErrorIs(t, err, domain.ErrLocalIO)
	assert.Equal(t, 1, res.Uploaded)

	uploads, deletes := f.pending(t)
	assert.Equal(t, []string{"gone.jpg", "b.jpg"}, uploads)
	assert.Equal(t, []string{"old.jpg"}, deletes)
	assert.Empty(t, f.store.Deletes)
}

// racingUploader enqueues work while the drain is running.
type racingUploader struct {
	*upload.Uploader
	queue *pending.Queue
	race  map[string]string
}

func (r *racingUploader) Upload(ctx context.Context, key, localPath string, opts upload.Options) error {
	if name, ok := r.race[key]; ok {
		if err := r.queue.EnqueueUpload(ctx, name); err != nil {
			return err
		}
	}
	return r.Uploader.Upload(ctx, key, localPath, opts)
}

func TestRunKeepsConcurrentSaves(t *testing.T) {
	f := newFixture(t)
	f.save(t, "x.jpg", "y.jpg")
	testutil.WriteFile(t, f.fs, testRoot, "new.jpg", []byte("new"), time.Time{})

	racing := &racingUploader{
		Uploader: f.uploader,
		queue:    f.queue,
		race:     map[string]string{"x.jpg": "new.jpg", "y.jpg": "y.jpg"},
	}
	engine := New(f.store, racing, f.queue, Config{Logger: f.logger})

	res, err := engine.Run(context.Background(), opts())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Uploaded)

	uploads, _ := f.pending(t)
	assert.Equal(t, []string{"y.jpg", "new.jpg"}, uploads)
}

func TestRunRecordsProgressWhenCancelled(t *testing.T) {
	f := newFixture(t)
	f.save(t, "a.jpg", "b.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	engine := New(f.store, uploaderFunc(func(c context.Context, key, local string, o upload.Options) error {
		defer cancel()
		return f.uploader.Upload(c, key, local, o)
	}), f.queue, Config{Logger: f.logger})

	_, err := engine.Run(ctx, opts())
	require.ErrorIs(t, err, context.Canceled)

	uploads, _ := f.pending(t)
	assert.Equal(t, []string{"b.jpg"}, uploads)
}

type uploaderFunc func(ctx context.Context, key, localPath string, opts upload.Options) error

func (fn uploaderFunc) Upload(ctx context.Context, key, localPath string, opts upload.Options) error {
	return fn(ctx, key, localPath, opts)
}

func TestRunRequiresBucketAndRoot(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Run(context.Background(), Options{Root: testRoot})
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
	_, err = f.engine.Run(context.Background(), Options{Bucket: "b"})
	assert.ErrorIs(t, err, domain.ErrConfigMissing)
}

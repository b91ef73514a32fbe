// Package pending keeps the upload and delete queues that the storage
// adapter fills and the drain engine empties.
//
// The two ordered key lists and the per-key markers live in separate cache
// entries but are only ever changed inside one cache.Store Update, so a
// marker is set exactly when its key sits in the upload list.
package pending

import (
	"context"
	"fmt"
	"slices"

	"s3sync/internal/cache"
)

const (
	DefaultUploadKey    = "s3-pending"
	DefaultDeleteKey    = "s3-pending-delete"
	DefaultMarkerPrefix = "s3-pending:"
)

type Config struct {
	UploadKey    string
	DeleteKey    string
	MarkerPrefix string
}

// Entry is a pending upload together with the revision of the save that queued it.
type Entry struct {
	Key string
	Rev int64
}

type Queue struct {
	store        cache.Store
	uploadKey    string
	deleteKey    string
	markerPrefix string
}

func New(store cache.Store, cfg Config) *Queue {
	if cfg.UploadKey == "" {
		cfg.UploadKey = DefaultUploadKey
	}
	if cfg.DeleteKey == "" {
		cfg.DeleteKey = DefaultDeleteKey
	}
	if cfg.MarkerPrefix == "" {
		cfg.MarkerPrefix = DefaultMarkerPrefix
	}
	return &Queue{
		store:        store,
		uploadKey:    cfg.UploadKey,
		deleteKey:    cfg.DeleteKey,
		markerPrefix: cfg.MarkerPrefix,
	}
}

func (q *Queue) markerKey(name string) string { return q.markerPrefix + name }
func (q *Queue) revKey() string               { return q.uploadKey + ":rev" }

func readList(tx cache.Tx, key string) ([]string, error) {
	var list []string
	if _, err := tx.Get(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func readRev(tx cache.Tx, key string) (int64, error) {
	var rev int64
	if _, err := tx.Get(key, &rev); err != nil {
		return 0, err
	}
	return rev, nil
}

// EnqueueUpload records name as pending upload. A save supersedes any
// pending delete of the same key.
func (q *Queue) EnqueueUpload(ctx context.Context, name string) error {
	err := q.store.Update(ctx, func(tx cache.Tx) error {
		uploads, err := readList(tx, q.uploadKey)
		if err != nil {
			return err
		}
		deletes, err := readList(tx, q.deleteKey)
		if err != nil {
			return err
		}
		rev, err := readRev(tx, q.revKey())
		if err != nil {
			return err
		}
		rev++

		if !slices.Contains(uploads, name) {
			uploads = append(uploads, name)
		}
		if err := tx.Set(q.uploadKey, uploads); err != nil {
			return err
		}
		if i := slices.Index(deletes, name); i >= 0 {
			if err := tx.Set(q.deleteKey, slices.Delete(deletes, i, i+1)); err != nil {
				return err
			}
		}
		if err := tx.Set(q.revKey(), rev); err != nil {
			return err
		}
		return tx.Set(q.markerKey(name), rev)
	})
	if err != nil {
		return fmt.Errorf("enqueue upload %s: %w", name, err)
	}
	return nil
}

// EnqueueDelete records the removal of name. A key still waiting for upload
// never reached the bucket, so it is simply dropped and false is returned.
func (q *Queue) EnqueueDelete(ctx context.Context, name string) (bool, error) {
	queued := false
	err := q.store.Update(ctx, func(tx cache.Tx) error {
		uploads, err := readList(tx, q.uploadKey)
		if err != nil {
			return err
		}
		if i := slices.Index(uploads, name); i >= 0 {
			if err := tx.Set(q.uploadKey, slices.Delete(uploads, i, i+1)); err != nil {
				return err
			}
			return tx.Delete(q.markerKey(name))
		}

		deletes, err := readList(tx, q.deleteKey)
		if err != nil {
			return err
		}
		queued = true
		if slices.Contains(deletes, name) {
			return nil
		}
		return tx.Set(q.deleteKey, append(deletes, name))
	})
	if err != nil {
		return false, fmt.Errorf("enqueue delete %s: %w", name, err)
	}
	return queued, nil
}

// IsPending reports whether name is waiting for upload.
func (q *Queue) IsPending(ctx context.Context, name string) (bool, error) {
	var rev int64
	ok, err := q.store.Get(ctx, q.markerKey(name), &rev)
	if err != nil {
		return false, fmt.Errorf("read marker %s: %w", name, err)
	}
	return ok && rev > 0, nil
}

// Snapshot returns both queues in insertion order, read in one update.
func (q *Queue) Snapshot(ctx context.Context) ([]Entry, []string, error) {
	var (
		uploads []Entry
		deletes []string
	)
	err := q.store.Update(ctx, func(tx cache.Tx) error {
		keys, err := readList(tx, q.uploadKey)
		if err != nil {
			return err
		}
		uploads = make([]Entry, 0, len(keys))
		for _, key := range keys {
			rev, err := readRev(tx, q.markerKey(key))
			if err != nil {
				return err
			}
			uploads = append(uploads, Entry{Key: key, Rev: rev})
		}
		deletes, err = readList(tx, q.deleteKey)
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read pending queues: %w", err)
	}
	return uploads, deletes, nil
}

// SettleUploads removes uploaded entries and clears their markers. An entry
// saved again after it was read keeps its place in the queue.
func (q *Queue) SettleUploads(ctx context.Context, done []Entry) error {
	if len(done) == 0 {
		return nil
	}
	err := q.store.Update(ctx, func(tx cache.Tx) error {
		uploads, err := readList(tx, q.uploadKey)
		if err != nil {
			return err
		}
		settled := make(map[string]bool, len(done))
		for _, entry := range done {
			rev, err := readRev(tx, q.markerKey(entry.Key))
			if err != nil {
				return err
			}
			if rev != entry.Rev {
				continue
			}
			settled[entry.Key] = true
			if err := tx.Delete(q.markerKey(entry.Key)); err != nil {
				return err
			}
		}
		remaining := slices.DeleteFunc(uploads, func(key string) bool { return settled[key] })
		return tx.Set(q.uploadKey, remaining)
	})
	if err != nil {
		return fmt.Errorf("settle uploads: %w", err)
	}
	return nil
}

// SettleDeletes removes the given keys from the delete queue.
func (q *Queue) SettleDeletes(ctx context.Context, done []string) error {
	if len(done) == 0 {
		return nil
	}
	err := q.store.Update(ctx, func(tx cache.Tx) error {
		deletes, err := readList(tx, q.deleteKey)
		if err != nil {
			return err
		}
		remaining := slices.DeleteFunc(deletes, func(key string) bool { return slices.Contains(done, key) })
		return tx.Set(q.deleteKey, remaining)
	})
	if err != nil {
		return fmt.Errorf("settle deletes: %w", err)
	}
	return nil
}

// Drop forgets name entirely, from both queues.
func (q *Queue) Drop(ctx context.Context, name string) error {
	err := q.store.Update(ctx, func(tx cache.Tx) error {
		for _, key := range []string{q.uploadKey, q.deleteKey} {
			list, err := readList(tx, key)
			if err != nil {
				return err
			}
			if i := slices.Index(list, name); i >= 0 {
				if err := tx.Set(key, slices.Delete(list, i, i+1)); err != nil {
					return err
				}
			}
		}
		return tx.Delete(q.markerKey(name))
	})
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	return nil
}

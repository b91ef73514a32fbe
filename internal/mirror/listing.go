package mirror

import (
	"context"

	"s3sync/internal/domain"
	"s3sync/internal/storage"
)

// listing consumes one directory's remote listing on demand. Entries read
// past while searching are parked in the walk's retained map so later
// lookups never rescan the cursor.
type listing struct {
	it   storage.ObjectIterator
	done bool
}

func newListing(it storage.ObjectIterator) *listing {
	return &listing{it: it}
}

func (l *listing) find(ctx context.Context, w *walk, key string) (domain.RemoteObject, bool, error) {
	if obj, ok := w.retained[key]; ok {
		return obj, true, nil
	}
	for !l.done {
		obj, ok, err := l.it.Next(ctx)
		if err != nil {
			return domain.RemoteObject{}, false, err
		}
		if !ok {
			l.done = true
			break
		}
		if obj.Key == key {
			return obj, true, nil
		}
		w.retain(obj)
	}
	return domain.RemoteObject{}, false, nil
}

// drain moves whatever is left of the cursor into the retained map.
func (l *listing) drain(ctx context.Context, w *walk) error {
	for !l.done {
		obj, ok, err := l.it.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			l.done = true
			break
		}
		w.retain(obj)
	}
	return nil
}

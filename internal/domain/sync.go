package domain

import (
	"path"
	"strings"
	"time"
)

// LocalFile is a regular file found while walking the media root.
type LocalFile struct {
	AbsPath string
	Key     string
	ModTime time.Time
	Size    int64
}

// RemoteObject is one entry of a bucket listing.
type RemoteObject struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Decision is what the full-tree sync does with a local file or remote key.
type Decision int

const (
	DecisionUpload Decision = iota
	DecisionSkip
	DecisionDeleteRemote
)

func (d Decision) String() string {
	switch d {
	case DecisionUpload:
		return "upload"
	case DecisionSkip:
		return "skip"
	case DecisionDeleteRemote:
		return "delete"
	default:
		return "unknown"
	}
}

// JoinKey prepends prefix to a slash separated relative key.
func JoinKey(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	rel = strings.TrimPrefix(rel, "/")
	if prefix == "" {
		return rel
	}
	if rel == "" {
		return prefix + "/"
	}
	return path.Join(prefix, rel)
}

// Failure is one item a run could not complete; it stays eligible for retry.
type Failure struct {
	Action string
	Key    string
	Err    error
}

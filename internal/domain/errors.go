package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMissing indicates a required setting (credentials, bucket, directory) is absent.
	ErrConfigMissing = errors.New("configuration missing")
	// ErrLocalIO indicates a local file could not be read for upload.
	ErrLocalIO = errors.New("local io error")
)

// RemoteOp names the object store operation that failed.
type RemoteOp string

const (
	OpPut    RemoteOp = "put"
	OpACL    RemoteOp = "acl"
	OpDelete RemoteOp = "delete"
	OpList   RemoteOp = "list"
	OpBucket RemoteOp = "bucket"
)

// RemoteError is returned when the object store rejects a request.
// Engines treat it as a per-item failure and keep going.
type RemoteError struct {
	Op     RemoteOp
	Bucket string
	Key    string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("remote %s %s: %v", e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("remote %s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRemote reports whether err is a recoverable object store rejection.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// MissingConfig builds an ErrConfigMissing naming the setting to supply.
func MissingConfig(setting, hint string) error {
	if hint == "" {
		return fmt.Errorf("%w: %s is required", ErrConfigMissing, setting)
	}
	return fmt.Errorf("%w: %s is required (%s)", ErrConfigMissing, setting, hint)
}

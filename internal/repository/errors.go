package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrStaleSequence indicates an update carried a sequence number not greater than
// the last one applied to the record.
var ErrStaleSequence = errors.New("repository: stale sequence")

// ErrInvalidArgument indicates the store rejected a value.
var ErrInvalidArgument = errors.New("repository: invalid argument")

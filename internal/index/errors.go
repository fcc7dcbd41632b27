package index

import "errors"

var (
	// ErrNotFound is returned when an item id has no match in the store.
	ErrNotFound = errors.New("index: item not found")

	// ErrNoSnapshot is returned by Load when either snapshot file is absent.
	// Callers treat it as "rebuild required", not as a failure.
	ErrNoSnapshot = errors.New("index: no snapshot on disk")

	// ErrInconsistentSnapshot is returned by Load when the vector file and the
	// metadata file belong to different builds.
	ErrInconsistentSnapshot = errors.New("index: snapshot files disagree")

	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

	// ErrEmptyIndex is returned when building an index from zero vectors.
	ErrEmptyIndex = errors.New("index: no vectors to index")
)

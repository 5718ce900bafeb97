package storage

import "errors"

// Storage error constants. Engine errors are wrapped around these
// sentinels so callers can distinguish a timeout from a malformed query
// from a missing index without parsing message text.
var (
	// ErrEngineTimeout is returned when a search engine call exceeded its
	// deadline. Transient: surface to the caller for retry.
	ErrEngineTimeout = errors.New("search engine timeout")

	// ErrEngineUnavailable is returned when the engine cannot be reached.
	ErrEngineUnavailable = errors.New("search engine unavailable")

	// ErrIndexNotFound is returned when an operation targets an index
	// that does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrBadQuery is returned when the engine rejected the query body.
	ErrBadQuery = errors.New("malformed query")

	// ErrScrollExpired is returned when a scroll cursor is no longer
	// resident on the engine.
	ErrScrollExpired = errors.New("scroll cursor expired")

	// ErrFileNotFound is returned when an indexed file row is not found.
	ErrFileNotFound = errors.New("indexed file not found")

	// ErrDatabaseClosed is returned when using a closed database handle.
	ErrDatabaseClosed = errors.New("database is closed")
)

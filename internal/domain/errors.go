package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrUnsupported = errors.New("unsupported operation")

// ErrMetadataUnavailable is returned while the torrent metadata has not been
// received yet and the caller stopped waiting for it.
var ErrMetadataUnavailable = errors.New("metadata unavailable")

var (
	ErrFileClosed    = errors.New("file closed")
	ErrDeprioritized = errors.New("piece deprioritized")
)

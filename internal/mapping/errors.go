package mapping

import "errors"

var (
	ErrIndexOutOfRange   = errors.New("tile index out of range")
	ErrAlreadyExists     = errors.New("already exists")
	ErrGridRetired       = errors.New("grid id belonged to a deleted grid")
	ErrNoSuchMap         = errors.New("no such map")
	ErrNoSuchGrid        = errors.New("no such grid")
	ErrMapMismatch       = errors.New("coordinates belong to a different map")
	ErrInvalidChunkSize  = errors.New("invalid chunk size")
	ErrInvalidArea       = errors.New("invalid query area")
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")
	ErrMalformedDelta    = errors.New("malformed delta")
	ErrNotAnchorable     = errors.New("entity cannot be anchored to this grid")
)

package core

import "errors"

var (
	// ErrNotInitialized is returned by stream operations before Init.
	ErrNotInitialized = errors.New("core: participant not initialized")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("core: participant already initialized")
	// ErrStopped is returned by operations on a stopped participant.
	ErrStopped = errors.New("core: participant stopped")
	// ErrRoomClosed is returned by Join when the room lost the race with
	// registry eviction; callers should look the room up again.
	ErrRoomClosed = errors.New("core: room closed")
)

package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a message cannot be found in the workspace.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid message id is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidWorkspace is returned when the workspace id is empty.
	ErrInvalidWorkspace = errors.New("store: invalid workspace id")

	// ErrInvalidMailboxType is returned for a type outside the closed enumeration.
	ErrInvalidMailboxType = errors.New("store: invalid mailbox type")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")
)

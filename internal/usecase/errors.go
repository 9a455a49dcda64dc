package usecase

import "errors"

// Error kinds returned by the rotator. Each is wrapped together with the
// underlying store error, so both match with errors.Is.
var (
	ErrNotInitialized = errors.New("remote store not initialized")
	ErrInvalidName    = errors.New("invalid backup filename")
	ErrDirectory      = errors.New("ensure directory")
	ErrRename         = errors.New("archive existing file")
	ErrPrune          = errors.New("prune old backups")
	ErrWrite          = errors.New("write backup")
	ErrRead           = errors.New("read backup")
)

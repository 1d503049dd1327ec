package domain

import "errors"

// Remote session errors. Adapters wrap their native failures in these so
// callers can branch with errors.Is whatever the protocol.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotDirectory     = errors.New("not a directory")
	ErrNotFile          = errors.New("not a file")
	ErrNetworkError     = errors.New("network error")
	ErrTimeout          = errors.New("operation timed out")
	// ErrAuthFailed means the remote rejected every offered credential
	ErrAuthFailed = errors.New("authentication failed")
)

// Run errors
var (
	// ErrListing wraps a directory the walk could not list
	ErrListing = errors.New("remote listing failed")
	// ErrTransfer wraps a file the walk could not fetch
	ErrTransfer = errors.New("remote transfer failed")
	// ErrUnsafeName marks a remote name that would land outside the staging directory
	ErrUnsafeName = errors.New("unsafe remote entry name")
	ErrArchive    = errors.New("archive failed")
)

// Configuration errors
var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigInvalid  = errors.New("invalid config")
)

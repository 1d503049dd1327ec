package adapter

import (
	"context"
	"io"

	"github.com/Ning0612/sftparchive/internal/domain"
)

// Adapter is an open read-only session on a remote tree. Failures are
// reported as domain errors (ErrNotFound, ErrNotDirectory, ErrNotFile,
// ErrPermissionDenied...) whatever the protocol underneath. The session
// belongs to whoever opened it.
type Adapter interface {
	// List returns the entries directly inside dir, in no particular order.
	// Each entry's Path can be passed back to List or Read.
	List(ctx context.Context, dir string) ([]domain.FileInfo, error)
	// Read opens a file; the caller closes the reader
	Read(ctx context.Context, path string) (io.ReadCloser, error)
	Stat(ctx context.Context, path string) (domain.FileInfo, error)
	Close() error
}

// Factory opens a session for the configured source
type Factory interface {
	Open(ctx context.Context, src domain.Source) (Adapter, error)
}

// JoinPath appends a remote entry name to a remote directory using '/'
// as separator, without cleaning, so remote roots like "/" survive.
func JoinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	for len(dir) > 1 && dir[len(dir)-1] == '/' {
		dir = dir[:len(dir)-1]
	}
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

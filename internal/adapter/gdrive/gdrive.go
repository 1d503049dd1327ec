// Package gdrive mirrors a Google Drive folder as a read-only remote session.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/domain"
)

const (
	// MimeTypeFolder is the MIME type of Drive folders
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// Docs, Sheets and Slides share this prefix and have no bytes to download
	nativePrefix = "application/vnd.google-apps."

	pageSize   = 100
	fileFields = "id, name, mimeType, size, modifiedTime"
	rootID     = "root"
)

// Adapter reads a Drive folder tree. Paths are slash-separated and relative
// to the configured root folder.
type Adapter struct {
	service *drive.Service
	root    string

	mu  sync.RWMutex
	ids map[string]string // absolute Drive path -> file ID
}

var _ adapter.Adapter = (*Adapter)(nil)

// New opens the Drive folder root using the token stored by `auth gdrive`
func New(ctx context.Context, clientID, clientSecret, tokenPath, root string) (*Adapter, error) {
	ts, err := NewAuthenticator(clientID, clientSecret, tokenPath).TokenSource(ctx)
	if err != nil {
		return nil, err
	}

	service, err := drive.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}
	return newAdapter(ctx, service, root)
}

// newAdapter resolves root eagerly so a wrong folder fails at connect time
func newAdapter(ctx context.Context, service *drive.Service, root string) (*Adapter, error) {
	a := &Adapter{
		service: service,
		root:    cleanRoot(root),
		ids:     map[string]string{"/": rootID},
	}

	if _, err := a.resolve(ctx, a.root); err != nil {
		return nil, fmt.Errorf("failed to resolve root folder %q: %w", a.root, err)
	}
	return a, nil
}

// cleanRoot turns any spelling of a folder path into "/a/b" form
func cleanRoot(root string) string {
	return path.Clean("/" + strings.TrimSpace(root))
}

// List returns the entries directly under relPath, following every result page
func (a *Adapter) List(ctx context.Context, relPath string) ([]domain.FileInfo, error) {
	full, err := a.abs(relPath)
	if err != nil {
		return nil, err
	}
	id, err := a.resolve(ctx, full)
	if err != nil {
		return nil, err
	}

	var entries []domain.FileInfo
	err = a.service.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed = false", quote(id))).
		PageSize(pageSize).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if isNative(f) {
					continue
				}
				if f.MimeType == MimeTypeFolder {
					a.remember(path.Join(full, f.Name), f.Id)
				}
				entries = append(entries, toFileInfo(relPath, f))
			}
			return nil
		})
	if err != nil {
		return nil, mapError(err)
	}

	return entries, nil
}

// Read streams the content of the file at relPath
func (a *Adapter) Read(ctx context.Context, relPath string) (io.ReadCloser, error) {
	full, err := a.abs(relPath)
	if err != nil {
		return nil, err
	}
	id, err := a.resolve(ctx, full)
	if err != nil {
		return nil, err
	}

	resp, err := a.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Body, nil
}

// Stat returns metadata for relPath
func (a *Adapter) Stat(ctx context.Context, relPath string) (domain.FileInfo, error) {
	full, err := a.abs(relPath)
	if err != nil {
		return domain.FileInfo{}, err
	}
	id, err := a.resolve(ctx, full)
	if err != nil {
		return domain.FileInfo{}, err
	}

	f, err := a.service.Files.Get(id).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return domain.FileInfo{}, mapError(err)
	}
	return toFileInfo(path.Dir(strings.TrimPrefix(relPath, "/")), f), nil
}

// Close is a no-op; the Drive client holds no session
func (a *Adapter) Close() error {
	return nil
}

// Root returns the Drive folder this adapter reads from
func (a *Adapter) Root() string {
	return a.root
}

// abs maps relPath onto the root folder and refuses to climb above it
func (a *Adapter) abs(relPath string) (string, error) {
	rel := path.Clean(strings.TrimPrefix(relPath, "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", domain.ErrPermissionDenied
	}
	return path.Join(a.root, rel), nil
}

// resolve finds the file ID of an absolute Drive path one segment at a time,
// caching every folder on the way
func (a *Adapter) resolve(ctx context.Context, full string) (string, error) {
	if id, ok := a.lookup(full); ok {
		return id, nil
	}

	parentID, err := a.resolve(ctx, path.Dir(full))
	if err != nil {
		return "", err
	}

	name := path.Base(full)
	list, err := a.service.Files.List().
		Q(fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", quote(name), quote(parentID))).
		PageSize(1).
		Fields("files(id, mimeType)").
		Context(ctx).Do()
	if err != nil {
		return "", mapError(err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrNotFound, full)
	}

	id := list.Files[0].Id
	a.remember(full, id)
	return id, nil
}

func (a *Adapter) lookup(full string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.ids[full]
	return id, ok
}

func (a *Adapter) remember(full, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[full] = id
}

// quote escapes a value for a single-quoted Drive query literal
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func isNative(f *drive.File) bool {
	return f.MimeType != MimeTypeFolder && strings.HasPrefix(f.MimeType, nativePrefix)
}

func toFileInfo(parent string, f *drive.File) domain.FileInfo {
	info := domain.FileInfo{
		Name: f.Name,
		Path: f.Name,
		Type: domain.FileTypeRegular,
		Size: f.Size,
	}
	if f.MimeType == MimeTypeFolder {
		info.Type = domain.FileTypeDirectory
		info.Size = 0
	}
	if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
		info.ModTime = t
	}
	switch parent = strings.Trim(parent, "/"); parent {
	case "", ".":
	default:
		info.Path = adapter.JoinPath(parent, f.Name)
	}
	return info
}

// mapError classifies Drive API failures as domain errors, keeping the cause
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}

	switch {
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case apiErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", domain.ErrAuthFailed, err)
	case apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
		return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
	default:
		return err
	}
}

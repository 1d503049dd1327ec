package gdrive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/sftparchive/internal/domain"
)

type fakeFile struct {
	id, name, mime, parent, content string
}

// fakeDrive serves the subset of the Drive v3 REST API the adapter uses
type fakeDrive struct {
	files    []fakeFile
	pageSize int

	nameQueries atomic.Int32
}

var (
	byName   = regexp.MustCompile(`^name = '((?:[^'\\]|\\.)*)' and '([^']*)' in parents`)
	byParent = regexp.MustCompile(`^'([^']*)' in parents`)
	unquote  = strings.NewReplacer(`\'`, `'`, `\\`, `\`)
)

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/files" {
		d.list(w, r)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/files/")
	for _, f := range d.files {
		if f.id != id {
			continue
		}
		if r.URL.Query().Get("alt") == "media" {
			io.WriteString(w, f.content)
			return
		}
		json.NewEncoder(w).Encode(d.resource(f))
		return
	}

	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, `{"error":{"code":404,"message":"File not found"}}`)
}

func (d *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var matches []fakeFile
	if m := byName.FindStringSubmatch(q.Get("q")); m != nil {
		d.nameQueries.Add(1)
		for _, f := range d.files {
			if f.name == unquote.Replace(m[1]) && f.parent == m[2] {
				matches = append(matches, f)
			}
		}
	} else if m := byParent.FindStringSubmatch(q.Get("q")); m != nil {
		for _, f := range d.files {
			if f.parent == m[1] {
				matches = append(matches, f)
			}
		}
	}

	offset, _ := strconv.Atoi(q.Get("pageToken"))
	limit, _ := strconv.Atoi(q.Get("pageSize"))
	if d.pageSize > 0 && (limit == 0 || d.pageSize < limit) {
		limit = d.pageSize
	}
	end := len(matches)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	resp := map[string]any{"files": []map[string]any{}}
	var page []map[string]any
	for _, f := range matches[offset:end] {
		page = append(page, d.resource(f))
	}
	if page != nil {
		resp["files"] = page
	}
	if end < len(matches) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}
	json.NewEncoder(w).Encode(resp)
}

func (d *fakeDrive) resource(f fakeFile) map[string]any {
	res := map[string]any{
		"id":           f.id,
		"name":         f.name,
		"mimeType":     f.mime,
		"modifiedTime": "2024-02-03T04:05:06Z",
	}
	if f.mime != MimeTypeFolder {
		res["size"] = strconv.Itoa(len(f.content))
	}
	return res
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{files: []fakeFile{
		{id: "f-backups", name: "Backups", mime: MimeTypeFolder, parent: "root"},
		{id: "f-site", name: "site", mime: MimeTypeFolder, parent: "f-backups"},
		{id: "index", name: "index.html", mime: "text/html", parent: "f-site", content: "<html></html>"},
		{id: "f-css", name: "css", mime: MimeTypeFolder, parent: "f-site"},
		{id: "notes", name: "Notes", mime: "application/vnd.google-apps.document", parent: "f-site"},
		{id: "quote", name: "o'neil.txt", mime: "text/plain", parent: "f-site", content: "hi"},
		{id: "main", name: "main.css", mime: "text/css", parent: "f-css", content: "body{}"},
	}}
}

// openFake starts d and opens an adapter rooted at root against it
func openFake(t *testing.T, d *fakeDrive, root string) (*Adapter, error) {
	t.Helper()

	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	service, err := drive.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	return newAdapter(ctx, service, root)
}

func TestAdapter_List(t *testing.T) {
	a, err := openFake(t, newFakeDrive(), "/Backups/site")
	require.NoError(t, err)

	entries, err := a.List(context.Background(), "")
	require.NoError(t, err)

	byPath := map[string]domain.FileInfo{}
	for _, e := range entries {
		byPath[e.Path] = e
	}
	require.Len(t, byPath, 3, "native documents are skipped")

	assert.True(t, byPath["index.html"].IsFile())
	assert.Equal(t, int64(13), byPath["index.html"].Size)
	assert.Equal(t, 2024, byPath["index.html"].ModTime.Year())
	assert.True(t, byPath["css"].IsDir())
	assert.Contains(t, byPath, "o'neil.txt")

	sub, err := a.List(context.Background(), "/css")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	assert.Equal(t, "css/main.css", sub[0].Path)
	assert.Equal(t, "main.css", sub[0].Name)
}

func TestAdapter_ListFollowsPages(t *testing.T) {
	d := newFakeDrive()
	d.pageSize = 1

	a, err := openFake(t, d, "Backups/site/")
	require.NoError(t, err)

	entries, err := a.List(context.Background(), ".")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAdapter_CachesListedFolders(t *testing.T) {
	d := newFakeDrive()
	a, err := openFake(t, d, "/Backups/site")
	require.NoError(t, err)
	resolved := d.nameQueries.Load()

	_, err = a.List(context.Background(), "")
	require.NoError(t, err)
	_, err = a.List(context.Background(), "css")
	require.NoError(t, err)

	assert.Equal(t, resolved, d.nameQueries.Load(), "folders seen in a listing are not looked up by name again")
}

func TestAdapter_ReadAndStat(t *testing.T) {
	a, err := openFake(t, newFakeDrive(), "/Backups/site")
	require.NoError(t, err)
	ctx := context.Background()

	for path, want := range map[string]string{"css/main.css": "body{}", "o'neil.txt": "hi"} {
		rc, err := a.Read(ctx, path)
		require.NoError(t, err, path)
		got, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	info, err := a.Stat(ctx, "css/main.css")
	require.NoError(t, err)
	assert.Equal(t, "css/main.css", info.Path)
	assert.Equal(t, int64(6), info.Size)
}

func TestAdapter_Errors(t *testing.T) {
	a, err := openFake(t, newFakeDrive(), "/Backups/site")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.List(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = a.Read(ctx, "css/missing.css")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, p := range []string{"..", "../other", "css/../../x", "/../x"} {
		_, err = a.List(ctx, p)
		assert.ErrorIs(t, err, domain.ErrPermissionDenied, p)
	}
}

func TestAdapter_MissingRoot(t *testing.T) {
	_, err := openFake(t, newFakeDrive(), "/Backups/nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdapter_DriveRoot(t *testing.T) {
	a, err := openFake(t, newFakeDrive(), "/")
	require.NoError(t, err)
	assert.Equal(t, "/", a.Root())

	entries, err := a.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Backups", entries[0].Name)
}

func TestCleanRoot(t *testing.T) {
	tests := map[string]string{
		"":              "/",
		"/":             "/",
		"Backups":       "/Backups",
		"/Backups/":     "/Backups",
		" /a//b ":       "/a/b",
		"/a/../b":       "/b",
		"../../escaped": "/escaped",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanRoot(in), "cleanRoot(%q)", in)
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `o\'neil`, quote("o'neil"))
	assert.Equal(t, `a\\b`, quote(`a\b`))
	// An injected clause stays inside the literal
	assert.Equal(t, `x\' or name contains \'`, quote("x' or name contains '"))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusUnauthorized, domain.ErrAuthFailed},
		{http.StatusForbidden, domain.ErrPermissionDenied},
		{http.StatusTooManyRequests, domain.ErrNetworkError},
		{http.StatusBadGateway, domain.ErrNetworkError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			apiErr := &googleapi.Error{Code: tt.code}
			got := mapError(fmt.Errorf("call: %w", apiErr))
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, apiErr, "the API error stays in the chain")
		})
	}

	assert.NoError(t, mapError(nil))

	plain := errors.New("connection reset")
	assert.Same(t, plain, mapError(plain))
	bad := &googleapi.Error{Code: http.StatusBadRequest}
	assert.Equal(t, error(bad), mapError(bad))
}

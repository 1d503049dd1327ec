// Package testutil builds and inspects local file trees for tests.
package testutil

import (
	"crypto/rand"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// CreateTestFile writes content to dir/name, creating parent directories,
// and returns the full path
func CreateTestFile(t testing.TB, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// CreateTree builds a tree under root from slash-separated paths. A path
// ending in "/" is created as a directory and its content ignored.
func CreateTree(t testing.TB, root string, tree map[string]string) {
	t.Helper()

	for rel, content := range tree {
		if strings.HasSuffix(rel, "/") {
			dir := filepath.Join(root, filepath.FromSlash(rel))
			if err := os.MkdirAll(dir, 0755); err != nil {
				t.Fatalf("mkdir %s: %v", dir, err)
			}
			continue
		}
		CreateTestFile(t, root, filepath.FromSlash(rel), []byte(content))
	}
}

// ReadTree is the inverse of CreateTree: files map to their content and
// directories, empty or not, appear with a trailing "/" mapped to "/"
func ReadTree(t testing.TB, root string) map[string]string {
	t.Helper()

	tree := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == root {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			tree[rel+"/"] = "/"
			return nil
		}
		data, err := os.ReadFile(path)
		tree[rel] = string(data)
		return err
	})
	if err != nil {
		t.Fatalf("read tree %s: %v", root, err)
	}
	return tree
}

// ListNames returns the entry names of dir in sorted order
func ListNames(t testing.TB, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

// SetModTime sets the access and modification times of path
func SetModTime(t testing.TB, path string, mtime time.Time) {
	t.Helper()

	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// RandomBytes returns n bytes that do not compress
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

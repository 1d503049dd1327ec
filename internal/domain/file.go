package domain

import "time"

// FileType classifies a remote entry
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
)

// FileInfo is one entry of a remote listing. Path is what List and Read
// accept for the entry; Size is zero for directories.
type FileInfo struct {
	Name    string
	Path    string
	Type    FileType
	Size    int64
	ModTime time.Time
}

func (f FileInfo) IsDir() bool {
	return f.Type == FileTypeDirectory
}

// IsFile is true for everything but directories: symlinks are read through
// the remote and archived as the file they point to
func (f FileInfo) IsFile() bool {
	return f.Type != FileTypeDirectory
}

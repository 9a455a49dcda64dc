package domain

import (
	"context"
	"io"
	"time"
)

const (
	EntryFile      = "file"
	EntryDirectory = "directory"
)

// RemoteFileStore is the capability set the rotator needs from a remote
// directory-and-file endpoint. Paths are slash separated and rooted at the
// store's own root.
type RemoteFileStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	CreateDirectory(ctx context.Context, path string, recursive bool) error
	GetDirectoryContents(ctx context.Context, path string) ([]FileStat, error)
	MoveFile(ctx context.Context, source, destination string) error
	DeleteFile(ctx context.Context, path string) error
	PutFileContents(ctx context.Context, path string, content io.Reader, opts PutOptions) (WriteResult, error)
	GetFileContents(ctx context.Context, path string, opts GetOptions) (io.ReadCloser, error)
}

// FileStat describes one directory entry. LastModified is zero when the
// store did not report a usable timestamp.
type FileStat struct {
	Basename     string
	Filename     string
	Type         string
	LastModified time.Time
	Size         int64
	ETag         string
}

func (f FileStat) IsFile() bool {
	return f.Type == EntryFile
}

type PutOptions struct {
	ContentType string
	// ContentLength is a hint; zero or negative means unknown.
	ContentLength int64
}

type GetOptions struct {
	Offset int64
	// Length of zero reads to the end of the file.
	Length int64
}

func (o GetOptions) Ranged() bool {
	return o.Offset > 0 || o.Length > 0
}

type WriteResult struct {
	Path string
	Size int64
	ETag string
}

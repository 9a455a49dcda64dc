package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/semmidev/davkeep/internal/domain"
)

var _ domain.RemoteFileStore = (*LocalStorage)(nil)

// LocalStorage serves a directory on local disk as a remote store, mainly for
// mounted network shares and tests. Remote paths are resolved under basePath.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// GetPath maps a remote path to its location on disk. Leading slashes and
// ".." segments cannot leave basePath.
func (l *LocalStorage) GetPath(remotePath string) string {
	clean := path.Clean("/" + remotePath)
	return filepath.Join(l.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/")))
}

func (l *LocalStorage) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(l.GetPath(p))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", p, err)
}

func (l *LocalStorage) CreateDirectory(ctx context.Context, p string, recursive bool) error {
	mkdir := os.Mkdir
	if recursive {
		mkdir = os.MkdirAll
	}
	if err := mkdir(l.GetPath(p), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return nil
}

func (l *LocalStorage) GetDirectoryContents(ctx context.Context, dir string) ([]domain.FileStat, error) {
	entries, err := os.ReadDir(l.GetPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	stats := make([]domain.FileStat, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}

		stat := domain.FileStat{
			Basename:     entry.Name(),
			Filename:     path.Join(dir, entry.Name()),
			Type:         domain.EntryFile,
			LastModified: info.ModTime(),
			Size:         info.Size(),
		}
		if entry.IsDir() {
			stat.Type = domain.EntryDirectory
			stat.Size = 0
		}
		stats = append(stats, stat)
	}

	return stats, nil
}

func (l *LocalStorage) MoveFile(ctx context.Context, source, destination string) error {
	if err := os.Rename(l.GetPath(source), l.GetPath(destination)); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}

func (l *LocalStorage) DeleteFile(ctx context.Context, p string) error {
	if err := os.Remove(l.GetPath(p)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalStorage) PutFileContents(ctx context.Context, p string, content io.Reader, opts domain.PutOptions) (domain.WriteResult, error) {
	dest, err := os.Create(l.GetPath(p))
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("failed to create dest: %w", err)
	}
	defer dest.Close()

	n, err := dest.ReadFrom(content)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("failed to copy: %w", err)
	}
	if err := dest.Close(); err != nil {
		return domain.WriteResult{}, fmt.Errorf("failed to close dest: %w", err)
	}

	return domain.WriteResult{Path: p, Size: n}, nil
}

func (l *LocalStorage) GetFileContents(ctx context.Context, p string, opts domain.GetOptions) (io.ReadCloser, error) {
	f, err := os.Open(l.GetPath(p))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	if !opts.Ranged() {
		return f, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	length := info.Size() - opts.Offset
	if opts.Length > 0 && opts.Length < length {
		length = opts.Length
	}
	if length < 0 {
		length = 0
	}

	return sectionReadCloser{
		Reader: io.NewSectionReader(f, opts.Offset, length),
		Closer: f,
	}, nil
}

type sectionReadCloser struct {
	io.Reader
	io.Closer
}

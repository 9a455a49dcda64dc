package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/semmidev/davkeep/internal/config"
	"github.com/semmidev/davkeep/internal/domain"
	"github.com/studio-b12/gowebdav"
)

const defaultWebDAVTimeout = 10 * time.Minute

var _ domain.RemoteFileStore = (*WebDAVStorage)(nil)

type WebDAVStorage struct {
	client *gowebdav.Client
}

// NewWebDAV builds a client authenticated with basic credentials. Requests
// go through cfg.ProxyURL when set, otherwise through the proxy named by the
// environment.
func NewWebDAV(cfg *config.WebDAVConfig) (*WebDAVStorage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webdav url is required")
	}

	transport, err := webdavTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}

	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	client.SetTransport(transport)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebDAVTimeout
	}
	client.SetTimeout(timeout)

	return &WebDAVStorage{client: client}, nil
}

func webdavTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyFromEnvironment

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}

	return transport, nil
}

// Ping checks that the server answers and the credentials are accepted.
func (w *WebDAVStorage) Ping(ctx context.Context) error {
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to webdav server: %w", err)
	}
	return nil
}

func (w *WebDAVStorage) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := w.client.Stat(p)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", p, err)
}

func (w *WebDAVStorage) CreateDirectory(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mkdir := w.client.Mkdir
	if recursive {
		mkdir = w.client.MkdirAll
	}
	if err := mkdir(p, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return nil
}

func (w *WebDAVStorage) GetDirectoryContents(ctx context.Context, dir string) ([]domain.FileStat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := w.client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, notFound(err))
	}

	entries := make([]domain.FileStat, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, webdavStat(dir, info))
	}
	return entries, nil
}

func webdavStat(dir string, info os.FileInfo) domain.FileStat {
	stat := domain.FileStat{
		Basename:     info.Name(),
		Filename:     path.Join(dir, info.Name()),
		Type:         domain.EntryFile,
		LastModified: info.ModTime(),
		Size:         info.Size(),
	}
	if info.IsDir() {
		stat.Type = domain.EntryDirectory
		stat.Size = 0
	}
	if f, ok := info.(*gowebdav.File); ok {
		stat.ETag = f.ETag()
	}
	return stat
}

func (w *WebDAVStorage) MoveFile(ctx context.Context, source, destination string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.client.Rename(source, destination, true); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", source, destination, notFound(err))
	}
	return nil
}

func (w *WebDAVStorage) DeleteFile(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := w.client.Remove(p); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", p, notFound(err))
	}
	return nil
}

// PutFileContents streams content to p, replacing any file there. The
// whole body is sent regardless of size.
func (w *WebDAVStorage) PutFileContents(ctx context.Context, p string, content io.Reader, opts domain.PutOptions) (domain.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.WriteResult{}, err
	}

	counter := &countingReader{r: content}
	if err := w.client.WriteStream(p, counter, 0644); err != nil {
		return domain.WriteResult{}, fmt.Errorf("failed to write %s: %w", p, err)
	}

	result := domain.WriteResult{Path: p, Size: counter.n}
	if info, err := w.client.Stat(p); err == nil {
		if f, ok := info.(*gowebdav.File); ok {
			result.ETag = f.ETag()
		}
	}
	return result, nil
}

func (w *WebDAVStorage) GetFileContents(ctx context.Context, p string, opts domain.GetOptions) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if opts.Ranged() {
		rc, err = w.client.ReadStreamRange(p, opts.Offset, opts.Length)
	} else {
		rc, err = w.client.ReadStream(p)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, notFound(err))
	}
	return rc, nil
}

func isNotFound(err error) bool {
	return gowebdav.IsErrNotFound(err) || errors.Is(err, fs.ErrNotExist)
}

// notFound makes a missing-path error from the client match fs.ErrNotExist.
func notFound(err error) error {
	if gowebdav.IsErrNotFound(err) && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

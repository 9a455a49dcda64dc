package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/davkeep/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memFile struct {
	data    []byte
	modTime time.Time
}

// memStore is an in-memory RemoteFileStore. Moves keep the modification
// time, writes stamp it from the clock, like a WebDAV server would.
type memStore struct {
	mu         sync.Mutex
	clock      *testClock
	files      map[string]memFile
	dirs       map[string]bool
	calls      map[string]int
	fail       map[string]error
	failDelete map[string]error
}

func newMemStore(clock *testClock) *memStore {
	return &memStore{
		clock:      clock,
		files:      make(map[string]memFile),
		dirs:       map[string]bool{"/": true},
		calls:      make(map[string]int),
		fail:       make(map[string]error),
		failDelete: make(map[string]error),
	}
}

var _ domain.RemoteFileStore = (*memStore)(nil)

func (s *memStore) seed(p, content string, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAll(path.Dir(p))
	s.files[p] = memFile{data: []byte(content), modTime: modTime}
}

func (s *memStore) content(p string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[p]
	return string(f.data), ok
}

func (s *memStore) filesWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s *memStore) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *memStore) enter(method string) error {
	s.calls[method]++
	return s.fail[method]
}

func (s *memStore) mkdirAll(dir string) {
	for dir != "/" && dir != "." {
		s.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

func (s *memStore) Exists(ctx context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("Exists"); err != nil {
		return false, err
	}
	_, isFile := s.files[p]
	return isFile || s.dirs[p], nil
}

func (s *memStore) CreateDirectory(ctx context.Context, p string, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CreateDirectory"); err != nil {
		return err
	}
	if !recursive && !s.dirs[path.Dir(p)] {
		return fmt.Errorf("parent of %s: %w", p, fs.ErrNotExist)
	}
	s.mkdirAll(p)
	return nil
}

func (s *memStore) GetDirectoryContents(ctx context.Context, dir string) ([]domain.FileStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetDirectoryContents"); err != nil {
		return nil, err
	}
	if !s.dirs[dir] {
		return nil, fmt.Errorf("%s: %w", dir, fs.ErrNotExist)
	}

	var entries []domain.FileStat
	for p, f := range s.files {
		if path.Dir(p) == dir {
			entries = append(entries, domain.FileStat{
				Basename:     path.Base(p),
				Filename:     p,
				Type:         domain.EntryFile,
				LastModified: f.modTime,
				Size:         int64(len(f.data)),
			})
		}
	}
	for d := range s.dirs {
		if d != dir && path.Dir(d) == dir {
			entries = append(entries, domain.FileStat{
				Basename: path.Base(d),
				Filename: d,
				Type:     domain.EntryDirectory,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

func (s *memStore) MoveFile(ctx context.Context, source, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MoveFile"); err != nil {
		return err
	}
	f, ok := s.files[source]
	if !ok {
		return fmt.Errorf("%s: %w", source, fs.ErrNotExist)
	}
	delete(s.files, source)
	s.files[destination] = f
	return nil
}

func (s *memStore) DeleteFile(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteFile"); err != nil {
		return err
	}
	if err := s.failDelete[p]; err != nil {
		return err
	}
	if _, ok := s.files[p]; !ok {
		return fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	delete(s.files, p)
	return nil
}

func (s *memStore) PutFileContents(ctx context.Context, p string, content io.Reader, opts domain.PutOptions) (domain.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("PutFileContents"); err != nil {
		return domain.WriteResult{}, err
	}
	if !s.dirs[path.Dir(p)] {
		return domain.WriteResult{}, fmt.Errorf("parent of %s: %w", p, fs.ErrNotExist)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return domain.WriteResult{}, err
	}
	s.files[p] = memFile{data: data, modTime: s.clock.Now()}
	return domain.WriteResult{Path: p, Size: int64(len(data)), ETag: fmt.Sprintf("%q", fmt.Sprint(len(data)))}, nil
}

func (s *memStore) GetFileContents(ctx context.Context, p string, opts domain.GetOptions) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetFileContents"); err != nil {
		return nil, err
	}
	f, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	data := f.data
	if opts.Offset > 0 {
		data = data[min(opts.Offset, int64(len(data))):]
	}
	if opts.Length > 0 && opts.Length < int64(len(data)) {
		data = data[:opts.Length]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type testLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *testLogger) Infof(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, fmt.Sprintf(template, args...))
}

func (l *testLogger) Warnf(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(template, args...))
}

func (l *testLogger) Errorf(template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(template, args...))
}

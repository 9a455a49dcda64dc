package usecase

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/semmidev/davkeep/internal/domain"
)

const (
	DefaultRetention = 10
	DefaultUTCOffset = 8 * time.Hour

	maxArchiveAttempts = 100
)

type RotationOptions struct {
	Directory string
	// Retention is the number of variants kept per base filename.
	Retention int
	// UTCOffset shifts the clock before rendering archive suffixes.
	UTCOffset time.Duration
}

func DefaultRotationOptions(directory string) RotationOptions {
	return RotationOptions{
		Directory: directory,
		Retention: DefaultRetention,
		UTCOffset: DefaultUTCOffset,
	}
}

// PutResult is the store's write result plus what the rotation did around it.
type PutResult struct {
	domain.WriteResult
	ArchivedAs string
	Pruned     []string
}

// Rotator uploads backups into one remote directory, archiving the previous
// file under a timestamped name and pruning archives beyond the retention
// count. Calls for the same filename must be serialized by the caller.
type Rotator struct {
	store     domain.RemoteFileStore
	logger    Logger
	directory string
	retention int
	offset    time.Duration
	now       func() time.Time
}

func NewRotator(store domain.RemoteFileStore, logger Logger, opts RotationOptions) (*Rotator, error) {
	if store == nil {
		return nil, ErrNotInitialized
	}
	if opts.Directory == "" {
		return nil, fmt.Errorf("rotation directory is required")
	}
	if opts.Retention < 1 {
		return nil, fmt.Errorf("retention must be at least 1, got %d", opts.Retention)
	}
	if logger == nil {
		logger = nopLogger{}
	}

	return &Rotator{
		store:     store,
		logger:    logger,
		directory: opts.Directory,
		retention: opts.Retention,
		offset:    opts.UTCOffset,
		now:       time.Now,
	}, nil
}

func (r *Rotator) Directory() string {
	return r.directory
}

// RemotePath returns where baseFilename lives on the store.
func (r *Rotator) RemotePath(baseFilename string) string {
	return joinRemote(r.directory, baseFilename)
}

// PutBackup writes content to the directory under baseFilename. An existing
// file at that path is renamed to baseFilename.<timestamp> first, then
// archives beyond the retention count are deleted oldest first. Nothing is
// rolled back when a later step fails.
func (r *Rotator) PutBackup(ctx context.Context, baseFilename string, content io.Reader, opts domain.PutOptions) (*PutResult, error) {
	if !r.initialized() {
		return nil, ErrNotInitialized
	}
	if err := validateBaseFilename(baseFilename); err != nil {
		r.logger.Errorf("[rotate] Refusing backup: %v", err)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Once started, a rotation runs to the end.
	ctx = context.WithoutCancel(ctx)

	if err := r.ensureDirectory(ctx); err != nil {
		return nil, err
	}

	remotePath := r.RemotePath(baseFilename)

	archivedAs, err := r.archive(ctx, remotePath)
	if err != nil {
		return nil, err
	}

	pruned, err := r.prune(ctx, baseFilename)
	if err != nil {
		return nil, err
	}

	written, err := r.store.PutFileContents(ctx, remotePath, content, opts)
	if err != nil {
		r.logger.Errorf("[rotate] Error putting file contents to %s: %v", remotePath, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrWrite, remotePath, err)
	}

	return &PutResult{
		WriteResult: written,
		ArchivedAs:  archivedAs,
		Pruned:      pruned,
	}, nil
}

// GetBackup opens the current file stored under baseFilename.
func (r *Rotator) GetBackup(ctx context.Context, baseFilename string, opts domain.GetOptions) (io.ReadCloser, error) {
	if !r.initialized() {
		return nil, ErrNotInitialized
	}
	if err := validateBaseFilename(baseFilename); err != nil {
		r.logger.Errorf("[rotate] Refusing read: %v", err)
		return nil, err
	}

	remotePath := r.RemotePath(baseFilename)

	content, err := r.store.GetFileContents(ctx, remotePath, opts)
	if err != nil {
		r.logger.Errorf("[rotate] Error getting file contents of %s: %v", remotePath, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrRead, remotePath, err)
	}

	return content, nil
}

// Variants lists the files kept for baseFilename, oldest first. The current
// file is included when present.
func (r *Rotator) Variants(ctx context.Context, baseFilename string) ([]domain.FileStat, error) {
	if !r.initialized() {
		return nil, ErrNotInitialized
	}
	if err := validateBaseFilename(baseFilename); err != nil {
		return nil, err
	}

	entries, err := r.store.GetDirectoryContents(ctx, r.directory)
	if err != nil {
		r.logger.Errorf("[rotate] Error listing %s: %v", r.directory, err)
		return nil, fmt.Errorf("%w: list %s: %w", ErrRead, r.directory, err)
	}

	return backupVariants(entries, baseFilename), nil
}

// Prune applies the retention limit to baseFilename without uploading
// anything. A missing directory has nothing to prune. When a delete fails,
// the files removed before it are returned along with the error.
func (r *Rotator) Prune(ctx context.Context, baseFilename string) ([]string, error) {
	if !r.initialized() {
		return nil, ErrNotInitialized
	}
	if err := validateBaseFilename(baseFilename); err != nil {
		return nil, err
	}

	exists, err := r.store.Exists(ctx, r.directory)
	if err != nil {
		r.logger.Errorf("[rotate] Error checking directory %s: %v", r.directory, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrPrune, r.directory, err)
	}
	if !exists {
		return nil, nil
	}

	return r.prune(ctx, baseFilename)
}

func (r *Rotator) initialized() bool {
	return r != nil && r.store != nil
}

func (r *Rotator) ensureDirectory(ctx context.Context) error {
	exists, err := r.store.Exists(ctx, r.directory)
	if err != nil {
		r.logger.Errorf("[rotate] Error checking directory %s: %v", r.directory, err)
		return fmt.Errorf("%w: %s: %w", ErrDirectory, r.directory, err)
	}
	if exists {
		return nil
	}

	if err := r.store.CreateDirectory(ctx, r.directory, true); err != nil {
		r.logger.Errorf("[rotate] Error creating directory %s: %v", r.directory, err)
		return fmt.Errorf("%w: %s: %w", ErrDirectory, r.directory, err)
	}
	r.logger.Infof("[rotate] Created directory %s", r.directory)

	return nil
}

func (r *Rotator) archive(ctx context.Context, remotePath string) (string, error) {
	exists, err := r.store.Exists(ctx, remotePath)
	if err != nil {
		r.logger.Errorf("[rotate] Error checking %s: %v", remotePath, err)
		return "", fmt.Errorf("%w: %s: %w", ErrRename, remotePath, err)
	}
	if !exists {
		return "", nil
	}

	target, err := r.archiveTarget(ctx, remotePath)
	if err != nil {
		r.logger.Errorf("[rotate] Error choosing archive name for %s: %v", remotePath, err)
		return "", fmt.Errorf("%w: %s: %w", ErrRename, remotePath, err)
	}

	if err := r.store.MoveFile(ctx, remotePath, target); err != nil {
		r.logger.Errorf("[rotate] Error renaming %s to %s: %v", remotePath, target, err)
		return "", fmt.Errorf("%w: %s: %w", ErrRename, remotePath, err)
	}
	r.logger.Infof("[rotate] Renamed existing file to %s", target)

	return target, nil
}

func (r *Rotator) archiveTarget(ctx context.Context, remotePath string) (string, error) {
	suffix := archiveSuffix(r.now(), r.offset)

	for attempt := 0; attempt < maxArchiveAttempts; attempt++ {
		candidate := archiveCandidate(remotePath, suffix, attempt)

		taken, err := r.store.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no free archive name after %d attempts", maxArchiveAttempts)
}

func (r *Rotator) prune(ctx context.Context, baseFilename string) ([]string, error) {
	entries, err := r.store.GetDirectoryContents(ctx, r.directory)
	if err != nil {
		r.logger.Errorf("[rotate] Error listing %s: %v", r.directory, err)
		return nil, fmt.Errorf("%w: list %s: %w", ErrPrune, r.directory, err)
	}

	stale := excess(backupVariants(entries, baseFilename), r.retention)

	pruned := make([]string, 0, len(stale))
	for _, file := range stale {
		if err := r.store.DeleteFile(ctx, file.Filename); err != nil {
			r.logger.Errorf("[rotate] Error deleting old backup %s: %v", file.Filename, err)
			return pruned, fmt.Errorf("%w: delete %s: %w", ErrPrune, file.Filename, err)
		}
		r.logger.Infof("[rotate] Deleted old backup file: %s", file.Filename)
		pruned = append(pruned, file.Filename)
	}

	return pruned, nil
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

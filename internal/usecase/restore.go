package usecase

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/semmidev/davkeep/internal/domain"
)

type Restore struct {
	rotator *Rotator
	logger  Logger
}

func NewRestore(rotator *Rotator, logger Logger) *Restore {
	return &Restore{
		rotator: rotator,
		logger:  logger,
	}
}

// Execute copies the current remote file for filename into w.
func (uc *Restore) Execute(ctx context.Context, filename string, w io.Writer) (int64, error) {
	content, err := uc.rotator.GetBackup(ctx, filename, domain.GetOptions{})
	if err != nil {
		return 0, err
	}
	defer content.Close()

	n, err := io.Copy(w, content)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", filename, err)
	}

	uc.logger.Infof("Restored %s (%.2f MB)", filename, float64(n)/(1024*1024))
	return n, nil
}

// ToFile restores into destPath. The file is written next to its final
// location and renamed into place only after the download completed.
func (uc *Restore) ToFile(ctx context.Context, filename, destPath string) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := uc.Execute(ctx, filename, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		return n, err
	}

	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return n, fmt.Errorf("failed to move restored file into place: %w", err)
	}

	return n, nil
}

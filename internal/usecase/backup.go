package usecase

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/semmidev/davkeep/internal/domain"
)

type Backup struct {
	name       string
	sourcePath string
	filename   string
	rotator    *Rotator
	notifiers  []domain.Notifier
	recorder   Recorder
	logger     Logger
}

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Recorder receives the outcome of backup and prune runs.
type Recorder interface {
	ObserveBackup(job string, duration time.Duration, size int64, err error)
	ObserveRotation(job string, archived bool, pruned int)
}

func NewBackup(
	name string,
	sourcePath string,
	filename string,
	rotator *Rotator,
	notifiers []domain.Notifier,
	recorder Recorder,
	logger Logger,
) *Backup {
	return &Backup{
		name:       name,
		sourcePath: sourcePath,
		filename:   filename,
		rotator:    rotator,
		notifiers:  notifiers,
		recorder:   recorder,
		logger:     logger,
	}
}

func (uc *Backup) Execute(ctx context.Context) error {
	start := time.Now()
	uc.logger.Infof("[%s] Starting backup of %s...", uc.name, uc.sourcePath)

	event := domain.BackupEvent{
		Job:        uc.name,
		Filename:   uc.filename,
		LocalPath:  uc.sourcePath,
		RemotePath: uc.rotator.RemotePath(uc.filename),
		At:         start,
	}

	result, err := uc.upload(ctx)
	event.Duration = time.Since(start)
	event.Err = err
	if result != nil {
		event.Size = result.Size
		event.ArchivedAs = result.ArchivedAs
		event.Pruned = len(result.Pruned)
	}

	if uc.recorder != nil {
		uc.recorder.ObserveBackup(uc.name, event.Duration, event.Size, err)
		if result != nil {
			uc.recorder.ObserveRotation(uc.name, result.ArchivedAs != "", len(result.Pruned))
		}
	}

	if len(uc.notifiers) > 0 {
		uc.notify(ctx, event)
	}

	if err != nil {
		uc.logger.Errorf("[%s] Backup failed after %s: %v", uc.name, event.Duration.Round(time.Millisecond), err)
		return err
	}

	uc.logger.Infof("[%s] Backup completed in %s: %s (%.2f MB, %d old backup(s) pruned)",
		uc.name, event.Duration.Round(time.Second), event.RemotePath,
		float64(event.Size)/(1024*1024), event.Pruned)

	return nil
}

func (uc *Backup) upload(ctx context.Context) (*PutResult, error) {
	file, err := os.Open(uc.sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", uc.sourcePath)
	}

	uc.logger.Infof("[%s] Uploading %.2f MB to %s",
		uc.name, float64(info.Size())/(1024*1024), uc.rotator.RemotePath(uc.filename))

	result, err := uc.rotator.PutBackup(ctx, uc.filename, file, domain.PutOptions{
		ContentLength: info.Size(),
	})
	if err != nil {
		return nil, fmt.Errorf("put backup: %w", err)
	}

	if result.Size == 0 {
		result.Size = info.Size()
	}

	return result, nil
}

func (uc *Backup) notify(ctx context.Context, event domain.BackupEvent) {
	var wg sync.WaitGroup

	for _, notifier := range uc.notifiers {
		wg.Add(1)
		go func(n domain.Notifier) {
			defer wg.Done()

			if err := n.Notify(ctx, event); err != nil {
				uc.logger.Warnf("[%s] Failed to send notification: %v", uc.name, err)
			}
		}(notifier)
	}

	wg.Wait()
}

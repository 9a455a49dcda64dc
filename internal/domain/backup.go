package domain

import (
	"context"
	"time"
)

type BackupJob struct {
	Name       string
	Schedule   string
	SourcePath string
	Filename   string
	BackupUC   BackupExecutor
}

type BackupExecutor interface {
	Execute(ctx context.Context) error
}

// BackupEvent is emitted after every backup attempt.
type BackupEvent struct {
	Job        string
	Filename   string
	LocalPath  string
	RemotePath string
	Size       int64
	ArchivedAs string
	Pruned     int
	Duration   time.Duration
	At         time.Time
	Err        error
}

func (e BackupEvent) Failed() bool {
	return e.Err != nil
}

type Notifier interface {
	Notify(ctx context.Context, event BackupEvent) error
}

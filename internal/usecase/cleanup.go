package usecase

import (
	"context"
	"errors"
	"fmt"
)

type CleanupTarget struct {
	Job      string
	Filename string
}

// Cleanup enforces the retention limit for every job without uploading.
type Cleanup struct {
	rotator  *Rotator
	targets  []CleanupTarget
	recorder Recorder
	logger   Logger
}

func NewCleanup(
	rotator *Rotator,
	targets []CleanupTarget,
	recorder Recorder,
	logger Logger,
) *Cleanup {
	return &Cleanup{
		rotator:  rotator,
		targets:  targets,
		recorder: recorder,
		logger:   logger,
	}
}

// Execute prunes the targets one after another. Targets share a directory
// and their name prefixes may overlap, so they are never pruned in parallel.
func (uc *Cleanup) Execute(ctx context.Context) error {
	uc.logger.Infof("Starting cleanup of %d backup(s) in %s", len(uc.targets), uc.rotator.Directory())

	var errs []error
	deleted := 0

	for _, target := range uc.targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		pruned, err := uc.rotator.Prune(ctx, target.Filename)
		if uc.recorder != nil && (err == nil || len(pruned) > 0) {
			uc.recorder.ObserveRotation(target.Job, false, len(pruned))
		}
		deleted += len(pruned)

		if err != nil {
			uc.logger.Errorf("[%s] Cleanup failed after deleting %d file(s): %v", target.Job, len(pruned), err)
			errs = append(errs, fmt.Errorf("%s: %w", target.Job, err))
		}
	}

	uc.logger.Infof("Cleanup completed, deleted %d old backup(s)", deleted)
	return errors.Join(errs...)
}

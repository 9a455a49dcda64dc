package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/semmidev/davkeep/internal/adapter/notifier"
	"github.com/semmidev/davkeep/internal/adapter/storage"
	"github.com/semmidev/davkeep/internal/config"
	"github.com/semmidev/davkeep/internal/domain"
	"github.com/semmidev/davkeep/internal/infrastructure/logger"
	"github.com/semmidev/davkeep/internal/infrastructure/metrics"
	"github.com/semmidev/davkeep/internal/infrastructure/scheduler"
	"github.com/semmidev/davkeep/internal/usecase"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	store      domain.RemoteFileStore
	rotator    *usecase.Rotator
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Collector
	backupJobs []domain.BackupJob
	cleanupUC  *usecase.Cleanup
	restoreUC  *usecase.Restore

	// mu serializes every run that rotates or prunes the remote directory.
	mu sync.Mutex
}

type Option func(*options)

type options struct {
	logger *logger.Logger
	store  domain.RemoteFileStore
}

// WithLogger replaces the logger built from the app config.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithStore replaces the remote store built from the remote config.
func WithStore(store domain.RemoteFileStore) Option {
	return func(o *options) {
		o.store = store
	}
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		var err error
		log, err = logger.New(logger.Options{
			Level:      cfg.App.LogLevel,
			File:       cfg.App.LogFile,
			MaxSizeMB:  cfg.App.LogMaxSizeMB,
			MaxBackups: cfg.App.LogMaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	store := o.store
	if store == nil {
		var err error
		store, err = initializeStore(ctx, &cfg.Remote, log)
		if err != nil {
			return nil, err
		}
	}

	rotator, err := usecase.NewRotator(store, log, usecase.RotationOptions{
		Directory: cfg.Remote.Directory,
		Retention: cfg.Rotation.Retention,
		UTCOffset: cfg.Rotation.UTCOffset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rotator: %w", err)
	}

	collector := metrics.New()
	notifiers := initializeNotifiers(cfg, log)
	backupJobs := initializeBackupJobs(cfg, rotator, notifiers, collector, log)

	var targets []usecase.CleanupTarget
	for _, job := range cfg.Jobs {
		targets = append(targets, usecase.CleanupTarget{Job: job.Name, Filename: job.Filename})
	}

	return &App{
		config:     cfg,
		logger:     log,
		store:      store,
		rotator:    rotator,
		scheduler:  scheduler.New(log.Named("cron")),
		metrics:    collector,
		backupJobs: backupJobs,
		cleanupUC:  usecase.NewCleanup(rotator, targets, collector, log),
		restoreUC:  usecase.NewRestore(rotator, log),
	}, nil
}

func initializeStore(ctx context.Context, cfg *config.RemoteConfig, log *logger.Logger) (domain.RemoteFileStore, error) {
	switch cfg.Type {
	case "webdav":
		store, err := storage.NewWebDAV(&cfg.WebDAV)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize WebDAV: %w", err)
		}
		log.Infof("✓ WebDAV remote: %s", cfg.WebDAV.URL)
		return store, nil

	case "s3":
		store, err := storage.NewS3(ctx, &cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3: %w", err)
		}
		log.Infof("✓ AWS S3 remote (bucket: %s)", cfg.S3.Bucket)
		return store, nil

	case "gdrive":
		store, err := storage.NewGDrive(ctx, &cfg.GDrive)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Drive: %w", err)
		}
		log.Infof("✓ Google Drive remote")
		return store, nil

	case "local":
		store, err := storage.NewLocal(cfg.Local.BasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		log.Infof("✓ Local remote: %s", cfg.Local.BasePath)
		return store, nil
	}

	return nil, fmt.Errorf("unknown remote type: %s", cfg.Type)
}

func initializeNotifiers(cfg *config.Config, log *logger.Logger) []domain.Notifier {
	var notifiers []domain.Notifier

	if cfg.Notify.Telegram.Enabled {
		tg, err := notifier.NewTelegram(&cfg.Notify.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize Telegram: %v", err)
		} else {
			notifiers = append(notifiers, tg)
			log.Infof("✓ Telegram notifications enabled")
		}
	}

	return notifiers
}

func initializeBackupJobs(
	cfg *config.Config,
	rotator *usecase.Rotator,
	notifiers []domain.Notifier,
	recorder usecase.Recorder,
	log *logger.Logger,
) []domain.BackupJob {
	var jobs []domain.BackupJob

	for _, jobCfg := range cfg.GetEnabledJobs() {
		backupUC := usecase.NewBackup(
			jobCfg.Name,
			jobCfg.Source,
			jobCfg.Filename,
			rotator,
			notifiers,
			recorder,
			log,
		)

		jobs = append(jobs, domain.BackupJob{
			Name:       jobCfg.Name,
			Schedule:   jobCfg.Schedule,
			SourcePath: jobCfg.Source,
			Filename:   jobCfg.Filename,
			BackupUC:   backupUC,
		})
	}

	return jobs
}

func (a *App) Rotator() *usecase.Rotator {
	return a.rotator
}

func (a *App) Restore() *usecase.Restore {
	return a.restoreUC
}

// Prune applies the retention limit to every configured job.
func (a *App) Prune(ctx context.Context) error {
	return a.exclusive(a.cleanupUC.Execute)(ctx)
}

func (a *App) Jobs() []domain.BackupJob {
	return a.backupJobs
}

// Run schedules every enabled job plus the cleanup and blocks until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	if len(a.backupJobs) == 0 {
		return fmt.Errorf("no enabled jobs found")
	}

	a.checkRemote(ctx)

	for _, job := range a.backupJobs {
		if err := a.scheduler.AddJob(job.Name, job.Schedule, a.exclusive(job.BackupUC.Execute)); err != nil {
			return fmt.Errorf("failed to schedule backup for %s: %w", job.Name, err)
		}
		a.logger.Infof("✓ Scheduled backup for %s: %s", job.Name, job.Schedule)
	}

	if a.config.Cleanup.Enabled {
		a.logger.Infof("Scheduling cleanup: %s", a.config.Cleanup.Schedule)
		if err := a.scheduler.AddJob("cleanup", a.config.Cleanup.Schedule, a.exclusive(a.cleanupUC.Execute)); err != nil {
			return fmt.Errorf("failed to schedule cleanup: %w", err)
		}
	}

	if a.config.Metrics.Enabled {
		go func() {
			a.logger.Infof("Serving metrics on %s/metrics", a.config.Metrics.Listen)
			if err := a.metrics.Serve(a.config.Metrics.Listen); err != nil {
				a.logger.Errorf("%v", err)
			}
		}()
	}

	a.scheduler.Start()
	a.logger.Infof("Application started with %d backup job(s) into %s", len(a.backupJobs), a.rotator.Directory())

	<-ctx.Done()
	return nil
}

// RunOnce runs every enabled job immediately. The jobs start together and
// take the directory lock in turn. A failing job does not stop the others.
func (a *App) RunOnce(ctx context.Context) error {
	if len(a.backupJobs) == 0 {
		return fmt.Errorf("no enabled jobs found")
	}

	var g errgroup.Group
	for _, job := range a.backupJobs {
		run := a.exclusive(job.BackupUC.Execute)
		g.Go(func() error {
			if err := run(ctx); err != nil {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// exclusive wraps job so it holds the directory lock while it runs. Jobs
// share one directory and their names may overlap by prefix, so a prune in
// one run could otherwise delete a file another run is archiving.
func (a *App) exclusive(job func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		return job(ctx)
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) checkRemote(ctx context.Context) {
	p, ok := a.store.(pinger)
	if !ok {
		return
	}
	if err := p.Ping(ctx); err != nil {
		a.logger.Warnf("Remote is not reachable yet: %v", err)
		return
	}
	a.logger.Infof("✓ Connected to remote")
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Warnf("%v", err)
	}

	a.logger.Close()
}

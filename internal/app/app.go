package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/drfeelgood/core/internal/config"
	"github.com/drfeelgood/core/internal/middleware"
	"github.com/drfeelgood/core/internal/modules/backup"
	"github.com/drfeelgood/core/internal/modules/journal/applog"
	"github.com/drfeelgood/core/internal/modules/journal/mood"
	"github.com/drfeelgood/core/internal/modules/journal/reminder"
	"github.com/drfeelgood/core/internal/modules/prompts"
	"github.com/drfeelgood/core/internal/modules/reference"
	"github.com/drfeelgood/core/internal/pkg/bark"
	"github.com/drfeelgood/core/internal/pkg/blobstore"
	pkgcron "github.com/drfeelgood/core/internal/pkg/cron"
	"github.com/drfeelgood/core/internal/pkg/metrics"
	pkgredis "github.com/drfeelgood/core/internal/pkg/redis"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	logger *zap.Logger
	store  blobstore.Store
	rc     *pkgredis.Client
	sched  *pkgcron.Scheduler
	cancel context.CancelFunc

	moods     *mood.Service
	reminders *reminder.Service
	checker   *reference.Checker
	prompts   *prompts.Provider
	backup    *backup.Service
	bark      *bark.Service
}

// Option adjusts how New wires the application. Used by tests.
type Option func(*options)

type options struct {
	store    blobstore.Store
	uploader backup.Uploader
	noCron   bool
}

// WithStore replaces the configured storage backend.
func WithStore(s blobstore.Store) Option { return func(o *options) { o.store = s } }

// WithUploader enables backups through u regardless of the s3 section.
func WithUploader(u backup.Uploader) Option { return func(o *options) { o.uploader = u } }

// WithoutScheduler skips starting background jobs.
func WithoutScheduler() Option { return func(o *options) { o.noCron = true } }

// New initializes the application: config → storage → Redis → routes → jobs.
func New(logger *zap.Logger, cfg *config.AppConfig, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = NewStore(cfg, logger); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	a := &App{cfg: cfg, logger: logger, store: store}

	if cfg.RedisURL != "" {
		rc, err := pkgredis.Connect(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.rc = rc
	}

	if err := a.buildServices(o); err != nil {
		a.closeRedis()
		return nil, err
	}
	a.sched = pkgcron.New(logger.Named("CronService"))
	registerCronJobs(a.sched, a)
	a.router = a.buildRouter()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if !o.noCron {
		a.sched.Start(ctx)
	}
	return a, nil
}

// NewStore builds the Store selected by storage.driver.
func NewStore(cfg *config.AppConfig, logger *zap.Logger) (blobstore.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage, entries are lost on restart")
		return blobstore.NewMemory(), nil
	default:
		return blobstore.NewGitHub(blobstore.GitHubConfig{
			APIURL:  cfg.GitHub.APIURL,
			Repo:    cfg.GitHub.Repo,
			Branch:  cfg.GitHub.Branch,
			Token:   cfg.GitHub.Token,
			Timeout: cfg.GitHub.Timeout,
		}, blobstore.WithLogger(logger.Named("BlobStore")))
	}
}

// NewChecker builds the reference checker from cfg.
func NewChecker(cfg *config.AppConfig, store blobstore.Store, logger *zap.Logger) (*reference.Checker, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return reference.NewChecker(reference.Config{
		ICDAPIURL:   cfg.Reference.ICDAPIURL,
		ICDHumanURL: cfg.Reference.ICDHumanURL,
		DSMURL:      cfg.Reference.DSMURL,
		ICDToken:    cfg.Reference.ICDToken,
		NoticePath:  cfg.Reference.NoticePath,
		Timeout:     cfg.Reference.Timeout,
		Location:    loc,
	}, store, reference.WithLogger(logger.Named("Reference"))), nil
}

func (a *App) buildServices(o options) error {
	logOpts := []applog.Option{
		applog.WithMalformedPolicy(a.cfg.MalformedPolicy()),
		applog.WithConflictRetries(a.cfg.Logs.ConflictRetries),
		applog.WithLogger(a.logger.Named("AppLog")),
	}
	a.moods = mood.NewService(applog.New(a.store, a.cfg.Logs.MoodPath, logOpts...))
	a.reminders = reminder.NewService(applog.New(a.store, a.cfg.Logs.RemindersPath, logOpts...), a.logger.Named("Reminder"))

	checker, err := NewChecker(a.cfg, a.store, a.logger)
	if err != nil {
		return err
	}
	a.checker = checker
	a.prompts = prompts.New(nil)
	a.bark = bark.New(bark.Config{Key: a.cfg.Bark.Key, ServerURL: a.cfg.Bark.ServerURL, Group: a.cfg.Bark.Group})

	uploader := o.uploader
	if uploader == nil && a.cfg.BackupEnabled() {
		s3u, err := backup.NewS3Uploader(backup.S3Config{
			Bucket:          a.cfg.S3.Bucket,
			Region:          a.cfg.S3.Region,
			Endpoint:        a.cfg.S3.Endpoint,
			AccessKeyID:     a.cfg.S3.AccessKeyID,
			SecretAccessKey: a.cfg.S3.SecretAccessKey,
			PathStyle:       a.cfg.S3.PathStyle,
		})
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		uploader = s3u
	}
	if uploader != nil {
		paths := []string{a.cfg.Logs.MoodPath, a.cfg.Logs.RemindersPath, checker.NoticePath()}
		a.backup = backup.NewService(a.store, uploader, a.cfg.S3.Prefix, paths, a.logger.Named("Backup"))
	}
	return nil
}

func (a *App) buildRouter() *gin.Engine {
	if a.cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(a.logger.Named("HTTP")))
	router.Use(metrics.Middleware())
	router.Use(cors.New(corsConfig(a.cfg.AllowedOrigins, a.cfg.IsDev())))

	if a.cfg.RateLimit.Enable {
		var limiter middleware.Limiter = middleware.NewMemoryLimiter(a.cfg.RateLimit.PerSecond)
		if a.rc != nil {
			limiter = middleware.NewRedisLimiter(a.rc, a.cfg.RateLimit.PerSecond)
		}
		var notifier middleware.Notifier
		if a.bark.Enabled() {
			notifier = a.bark
		}
		router.Use(middleware.RateLimit(limiter, notifier, a.logger.Named("RateLimit")))
	}
	if a.rc != nil {
		router.Use(middleware.Idempotence(middleware.NewRedisIdempotence(a.rc)))
	}

	a.registerRoutes(router)
	return router
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Scheduler returns the job scheduler.
func (a *App) Scheduler() *pkgcron.Scheduler { return a.sched }

// Shutdown stops background jobs and waits for them, then closes Redis.
func (a *App) Shutdown() {
	a.cancel()
	a.sched.Wait()
	a.closeRedis()
}

func (a *App) closeRedis() {
	if a.rc == nil {
		return
	}
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
}

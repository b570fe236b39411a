package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/raqeeb-app/raqeeb/internal/api"
	"github.com/raqeeb-app/raqeeb/internal/app"
	"github.com/raqeeb-app/raqeeb/internal/app/schedule"
	"github.com/raqeeb-app/raqeeb/internal/database"
	"github.com/raqeeb-app/raqeeb/internal/feed"
	"github.com/raqeeb-app/raqeeb/internal/pipeline"
	"github.com/raqeeb-app/raqeeb/internal/services"
	"github.com/raqeeb-app/raqeeb/pkg/logger"
	"github.com/raqeeb-app/raqeeb/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("raqeeb-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if strings.TrimSpace(cfg.Pipeline.TriggerSecret) == "" {
		return errors.New("pipeline.trigger_secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	mailer, err := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.Email.SMTP.Enabled,
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		UseTLS:   cfg.Email.SMTP.UseTLS,
		Timeout:  cfg.Email.SMTP.Timeout,
	})
	if err != nil {
		return fmt.Errorf("initialise mailer: %w", err)
	}

	fetcher, err := feed.NewClient(feed.Config{
		URL:           cfg.Feed.URL,
		DetailBaseURL: cfg.Feed.DetailBaseURL,
		Timeout:       cfg.Feed.Timeout,
		MaxAttempts:   cfg.Feed.MaxAttempts,
		BackoffBase:   cfg.Feed.BackoffBase,
	})
	if err != nil {
		return fmt.Errorf("initialise feed client: %w", err)
	}

	announcementSvc, err := services.NewAnnouncementService(db)
	if err != nil {
		return fmt.Errorf("initialise announcement service: %w", err)
	}
	matchingSvc, err := services.NewMatchingService(db)
	if err != nil {
		return fmt.Errorf("initialise matching service: %w", err)
	}
	dispatchSvc, err := services.NewDispatchService(db, mailer)
	if err != nil {
		return fmt.Errorf("initialise dispatch service: %w", err)
	}
	schedulerSvc, err := services.NewSchedulerService(db, dispatchSvc)
	if err != nil {
		return fmt.Errorf("initialise scheduler service: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Options{
		Fetcher:       fetcher,
		Announcements: announcementSvc,
		Matching:      matchingSvc,
		Scheduler:     schedulerSvc,
		Dispatcher:    dispatchSvc,
		MatchWindow:   cfg.Pipeline.MatchWindow,
	})
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}

	if cfg.Pipeline.Scheduler.Enabled {
		runner := schedule.NewRunner(pipe,
			schedule.WithIngestSchedule(cfg.Pipeline.Scheduler.IngestSpec),
			schedule.WithDigestSchedule(cfg.Pipeline.Scheduler.DigestSpec),
		)
		if err := runner.Start(); err != nil {
			return fmt.Errorf("start pipeline schedule: %w", err)
		}
		defer func() {
			<-runner.Stop().Done()
		}()
	}

	router, err := api.NewRouter(db, pipe, cfg)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = cfg.Database.Postgres.Password
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("acquire database handle for close", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}

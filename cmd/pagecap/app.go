package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"

	"pagecap-go/application"
	"pagecap-go/core/eventbus"
	"pagecap-go/domain/capture"
	"pagecap-go/domain/preset"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/config"
	"pagecap-go/infrastructure/devtools"
	"pagecap-go/infrastructure/encoder"
	"pagecap-go/infrastructure/logging"
	"pagecap-go/infrastructure/metrics"
	"pagecap-go/infrastructure/notify"
	"pagecap-go/infrastructure/repository"
	"pagecap-go/resources"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	eventBus    eventbus.EventBus
	presets     *preset.Registry
	coordinator *application.Coordinator
	collector   *metrics.Collector

	// closers run in reverse order on Close
	closers []func()
}

// loadConfig reads the config file and applies the --log-level override.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		if _, err := logging.ParseLevel(flags.logLevel); err != nil {
			return nil, err
		}
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

// loadPresets returns the registry of built-in presets.
func loadPresets() (*preset.Registry, error) {
	registry := preset.NewRegistry()
	if err := preset.NewLoader(registry).LoadFromFS(resources.PresetFiles); err != nil {
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}
	return registry, nil
}

// newApp wires logging, storage, messaging, metrics and the coordinator.
func newApp(ctx context.Context, flags *globalFlags, withHistory bool) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.Setup(cfg.LoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = closeLog() })

	if err := a.wire(ctx, withHistory); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, withHistory bool) error {
	cfg, logger := a.cfg, a.logger

	presets, err := loadPresets()
	if err != nil {
		return err
	}
	a.presets = presets
	logger.Info("Presets loaded", "count", presets.Count())

	// Event bus
	a.eventBus = eventbus.New(cfg.Coordinator.EventBuffer, eventbus.WithLogger(logger))

	a.collector = metrics.NewCollector()
	a.collector.Attach(a.eventBus)
	a.closers = append(a.closers, a.collector.Detach)

	if cfg.NATS.URL != "" {
		publisher, err := notify.Connect(notify.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Name:          cfg.NATS.Name,
		}, logger)
		if err != nil {
			return err
		}
		publisher.Attach(a.eventBus)
		a.closers = append(a.closers, func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close NATS connection", "error", err)
			}
		})
		logger.Info("Publishing job events to NATS", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	// Subscribers stay attached until the queue is drained
	a.closers = append(a.closers, a.eventBus.Close)

	// Browser
	var health devtools.Client = devtools.NewNoOpClient()
	if cfg.Remote.URL != "" {
		client, err := devtools.NewHTTPClient(cfg.DevtoolsConfig(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize remote browser client: %w", err)
		}
		health = client
		if info, err := client.Version(ctx); err == nil {
			logger.Info("Remote browser", "browser", info.Browser, "protocol", info.ProtocolVersion)
		} else {
			logger.Warn("Remote browser version unavailable", "error", err)
		}
	}
	a.closers = append(a.closers, health.Close)
	drivers := browser.NewFactory(cfg.DriverConfig(), health, logger)

	encoders := encoder.NewFactory(cfg.EncoderConfig(), logger)
	logger.Info("Video formats available", "formats", encoders.Formats())

	var history *capture.Service
	if withHistory {
		history, err = a.openHistory(ctx)
		if err != nil {
			return err
		}
	}

	a.coordinator = application.NewCoordinator(&application.CoordinatorConfig{
		EventBus:       a.eventBus,
		Presets:        presets,
		History:        history,
		DriverFactory:  drivers.NewDriver,
		EncoderFactory: encoders.New,
		Logger:         logger,
		MaxConcurrent:  cfg.Coordinator.MaxConcurrent,
		MaxDuration:    cfg.Coordinator.MaxDuration,
		SettleDelay:    cfg.Coordinator.SettleDelay,
		StopTimeout:    cfg.Coordinator.StopTimeout,
		Remote:         cfg.Remote.URL != "",
	})
	a.coordinator.Start()
	a.closers = append(a.closers, a.coordinator.Stop)

	return nil
}

// openHistory opens the configured history and artifact storage.
func (a *app) openHistory(ctx context.Context) (*capture.Service, error) {
	cfg, logger := a.cfg.Storage, a.logger

	switch cfg.Driver {
	case config.StorageNone:
		logger.Info("Capture history disabled")
		return nil, nil

	case config.StorageMongo:
		mongoCfg := repository.DefaultMongoDBConfig()
		mongoCfg.URI = cfg.MongoURI
		mongoCfg.Database = cfg.MongoDatabase

		mongoDB, err := repository.NewMongoDB(ctx, mongoCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MongoDB: %w", err)
		}
		a.closers = append(a.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoDB.Close(closeCtx)
		})

		var store capture.ArtifactStore
		if cfg.PersistArtifacts {
			gridfsStore, err := repository.NewGridFSArtifactStore(mongoDB, cfg.GridFSBucket, logger)
			if err != nil {
				return nil, err
			}
			store = gridfsStore
		}
		return capture.NewService(repository.NewMongoRecordRepository(mongoDB, logger), store, logger), nil

	default:
		db, err := repository.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })

		var store capture.ArtifactStore
		if cfg.PersistArtifacts {
			fileStore, err := repository.NewFileArtifactStore(afero.NewOsFs(), cfg.ArtifactDir, logger)
			if err != nil {
				return nil, err
			}
			store = fileStore
		}
		logger.Info("Capture history enabled", "db", cfg.SQLitePath, "artifacts", cfg.ArtifactDir)
		return capture.NewService(repository.NewSQLiteRecordRepository(db, logger), store, logger), nil
	}
}

// Close releases everything in reverse wiring order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

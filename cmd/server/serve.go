package main

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"kalitaforms/internal/api"
	"kalitaforms/internal/config"
	"kalitaforms/internal/pg"
	"kalitaforms/internal/reference"
)

func newServeCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "serve",
		Short: "Runs the form render host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
	return &cmd
}

// setup читает конфигурацию и настраивает логгер.
func setup(cmd *cobra.Command) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return cfg, nil, err
	}
	log := logrus.New()
	lvl, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, nil, errors.Wrap(err, "log level")
	}
	log.SetLevel(lvl)
	return cfg, log, nil
}

func catalogPaths(cfg config.Config) api.CatalogPaths {
	return api.CatalogPaths{
		DSLDir:            cfg.DSLDir,
		LayoutsDir:        cfg.LayoutsDir,
		EnumsDir:          cfg.EnumsDir,
		DisplayFieldsFile: cfg.DisplayFieldsFile,
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	paths := catalogPaths(cfg)
	cat, err := api.LoadCatalog(paths)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"tables":  len(cat.Schemas),
		"layouts": len(cat.Layouts),
		"enums":   len(cat.Enums),
	}).Info("catalog loaded")
	for _, is := range api.LintCatalog(cat) {
		log.WithFields(logrus.Fields{"table": is.Table, "field": is.Field, "code": is.Code}).Warn(is.Message)
	}

	var backend api.Backend = api.NewMemoryBackend()
	if cfg.DBURL != "" {
		db, err := pg.Open(ctx, cfg.DBURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx, db, cat.Schemas, log); err != nil {
				return err
			}
		}
		backend = pg.NewStore(db, log)
		log.Info("records: postgres")
	} else {
		log.Info("records: in-memory")
	}

	storage := api.NewStorage(cat, backend, &api.LocalBlobStore{Root: cfg.FilesRoot}, log)
	srv := api.NewServer(ctx, storage, api.Settings{
		PublicOrigin:   cfg.PublicOrigin,
		StoragePrefix:  cfg.StoragePrefix,
		SearchPageSize: cfg.SearchPageSize,
		SearchDebounce: cfg.SearchDebounce.Std(),
		Watch: reference.WatchConfig{
			Interval: cfg.CreatePollInterval.Std(),
			Max:      cfg.CreatePollMax.Std(),
		},
		SessionIdle: cfg.SessionIdle.Std(),
		CreateTTL:   cfg.CreatePollMax.Std(),
		Paths:       paths,
	}, log)
	return api.RunServer(ctx, ":"+cfg.Port, srv)
}

// openDB: подключение для команд, которым нужна база.
func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if cfg.DBURL == "" {
		return nil, errors.New("database URL is not set (--db or KALITA_DB_URL)")
	}
	return pg.Open(ctx, cfg.DBURL)
}

package cli

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/giuseppe/atomic/internal/checkout"
	"github.com/giuseppe/atomic/internal/config"
	"github.com/giuseppe/atomic/internal/deployment"
	"github.com/giuseppe/atomic/internal/importer"
	"github.com/giuseppe/atomic/internal/logging"
	"github.com/giuseppe/atomic/internal/objectstore"
)

var userMode bool

func newLogger() *zap.SugaredLogger {
	log, err := logging.NewProduction()
	if err != nil {
		return logging.NewNop()
	}
	return log
}

func openStore(cfg *config.Config) (*objectstore.Store, error) {
	return objectstore.NewStore(cfg.RepoPath, newLogger())
}

func buildImporter(cfg *config.Config, store *objectstore.Store) *importer.Importer {
	return &importer.Importer{Store: store, Log: newLogger()}
}

func buildEngine(cfg *config.Config, store *objectstore.Store) *checkout.Engine {
	return &checkout.Engine{
		Store:        store,
		CheckoutRoot: cfg.CheckoutRoot,
		Log:          newLogger(),

		RunDirectory:   cfg.RunDirectory(),
		ConfDirectory:  cfg.ConfDirectory(),
		StateDirectory: cfg.StateDirectory(),
	}
}

func buildManager(cfg *config.Config, store *objectstore.Store) *deployment.Manager {
	return &deployment.Manager{
		Store:    store,
		Importer: buildImporter(cfg, store),
		Engine:   buildEngine(cfg, store),
		Super:    &deployment.Systemd{UserMode: cfg.UserMode},
		Host: &deployment.FileInstall{
			UnitDir:     unitDir(cfg),
			TmpfilesDir: tmpfilesDir(cfg),
			RegistryDir: cfg.StateDirectory(),
		},
		Log: newLogger(),
	}
}

func unitDir(cfg *config.Config) string {
	if cfg.UserMode {
		return filepath.Join(cfg.ConfDirectory(), "systemd", "user")
	}
	return filepath.Join(cfg.ConfDirectory(), "systemd", "system")
}

func tmpfilesDir(cfg *config.Config) string {
	return filepath.Join(cfg.ConfDirectory(), "tmpfiles.d")
}

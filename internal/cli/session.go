package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/smelt/internal/concretize"
	"github.com/roach88/smelt/internal/config"
	"github.com/roach88/smelt/internal/deps"
	"github.com/roach88/smelt/internal/repo"
	"github.com/roach88/smelt/internal/store"
)

// DefaultConfigFile is read from the working directory when --config is
// not given.
const DefaultConfigFile = "smelt.yaml"

// session holds everything a command needs, built from config and flags.
type session struct {
	cfg         *config.Config
	index       *repo.Index
	providers   *repo.ProviderIndex
	concretizer *concretize.Concretizer
	db          *store.Store
	logger      *slog.Logger
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, &setupError{code: ErrCodeConfig, err: err}
		}
	}
	if len(opts.Repos) > 0 {
		cfg.Repos = opts.Repos
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openSession loads repositories and builds the concretizer. The installed
// database is opened only when withDB is set.
func openSession(opts *RootOptions, withDB bool) (*session, error) {
	logger := opts.logger()
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if len(cfg.Repos) == 0 {
		return nil, &setupError{code: ErrCodeRepo, err: errors.New("no package repositories configured (use --repo or repos: in smelt.yaml)")}
	}
	index, err := repo.Load(logger, cfg.Repos...)
	if err != nil {
		return nil, &setupError{code: ErrCodeRepo, err: err}
	}
	providers := repo.NewProviderIndex(index, cfg.Providers)

	copts, err := concretize.OptionsFromConfig(cfg)
	if err != nil {
		return nil, &setupError{code: ErrCodeConfig, err: err}
	}
	c := concretize.New(index, providers, append(copts, concretize.WithLogger(logger))...)

	s := &session{
		cfg:         cfg,
		index:       index,
		providers:   providers,
		concretizer: c,
		logger:      logger,
	}
	if withDB {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
			return nil, &setupError{code: ErrCodeDatabase, err: err}
		}
		db, err := store.Open(cfg.Database, store.WithInterner(c.Interner()), store.WithLogger(logger))
		if err != nil {
			return nil, &setupError{code: ErrCodeDatabase, err: fmt.Errorf("open %s: %w", cfg.Database, err)}
		}
		s.db = db
	}
	logger.Debug("session ready", "repos", len(cfg.Repos), "packages", index.Len(), "database", cfg.Database)
	return s, nil
}

// depsService wires the dependency query service.
func (s *session) depsService() *deps.Service {
	return deps.NewService(s.concretizer, s.providers, s.db, s.logger)
}

func (s *session) Close() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

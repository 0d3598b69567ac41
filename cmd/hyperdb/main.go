// Package main is the hyperdb CLI entry point.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/hyperdb/internal/config"
	"github.com/hyperjump/hyperdb/internal/embedding"
	"github.com/hyperjump/hyperdb/internal/extract"
	"github.com/hyperjump/hyperdb/internal/ingest"
	"github.com/hyperjump/hyperdb/internal/search"
	"github.com/hyperjump/hyperdb/internal/store"
	"github.com/hyperjump/hyperdb/internal/vector"
	"github.com/hyperjump/hyperdb/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/hyperdb/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "hyperdb",
		Short:        "Embedded vector store with a retrieval API",
		Long:         `hyperdb stores documents with their embedding vectors, answers similarity queries and serves chat context over HTTP.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(g),
		newBuildCmd(g),
		newQueryCmd(g),
		newListCmd(g),
		newRemoveCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newStatusCmd(g),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, config.yaml in
// the working directory wins if present, and a missing default file falls
// back to built-in defaults plus environment overrides.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				return cfg, fallback, err
			}
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// components holds initialized services.
type components struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embedding.Embedder
	store    *store.Store
	engine   *search.Engine
}

func (c *components) Close() {
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	_ = c.logger.Sync()
}

// setup loads config, builds the logger and wires the components.
func setup(g *globalFlags) (*components, error) {
	cfg, resolved, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}
	debug := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debug, zap.String("version", version))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("Config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	c, err := initializeComponents(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return c, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	producer, err := embedding.NewProducer(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	batcher := embedding.NewBatcherFromConfig(producer, cfg.Embedding, logger)

	metric, err := vector.ParseMetric(cfg.Store.Metric)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	opts := []store.Option{
		store.WithEmbedder(batcher),
		store.WithLogger(logger),
		store.WithInitialCapacity(cfg.Store.InitialCapacity),
		store.WithGrowth(cfg.Store.Growth),
	}
	if cfg.Store.Seed != 0 {
		opts = append(opts, store.WithRand(rand.New(rand.NewPCG(cfg.Store.Seed, cfg.Store.Seed))))
	}
	st, err := store.New(metric, opts...)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	loader := ingest.NewLoader(cfg.Ingest, extract.NewExtractor(), ingest.WithLogger(logger))
	engine := search.NewEngine(st, loader,
		search.WithLogger(logger),
		search.WithSnapshotPath(cfg.Store.SnapshotPath),
		search.WithDataPath(cfg.Ingest.DataPath),
		search.WithDefaultTopK(cfg.Server.DefaultTopK),
	)
	return &components{
		cfg:      cfg,
		logger:   logger,
		embedder: producer,
		store:    st,
		engine:   engine,
	}, nil
}

// loadSnapshot loads the configured snapshot. When allowMissing is set a
// missing file leaves the store empty.
func (c *components) loadSnapshot(allowMissing bool) error {
	err := c.store.Load(c.cfg.Store.SnapshotPath)
	if allowMissing && errors.Is(err, store.ErrStoreFileNotFound) {
		return nil
	}
	return err
}

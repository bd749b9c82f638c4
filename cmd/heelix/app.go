package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stritefax/heelixchat/internal/cli"
	"github.com/stritefax/heelixchat/internal/config"
	"github.com/stritefax/heelixchat/internal/embedding"
	"github.com/stritefax/heelixchat/internal/keyword"
	"github.com/stritefax/heelixchat/internal/search"
	"github.com/stritefax/heelixchat/internal/similarity"
	"github.com/stritefax/heelixchat/internal/storage"
	"github.com/stritefax/heelixchat/internal/vector"
	"github.com/stritefax/heelixchat/pkg/utils"
)

// app holds the components every command works with.
type app struct {
	cfg        *config.Config
	configPath string
	credential string
	format     cli.OutputFormat
	logger     *zap.Logger

	store    *storage.SQLiteStorage
	keywords *keyword.BleveIndex
	embedder embedding.Embedder
	handle   *similarity.Handle
	engine   *search.Engine
}

// loadConfig resolves the config file. Without an explicit path it tries config.yaml in the
// working directory, then ~/.heelix/config.yaml, then built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	candidates := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".heelix", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			abs, _ := filepath.Abs(c)
			cfg, err := config.Load(abs)
			return cfg, abs, err
		}
	}
	return config.Default(), "", nil
}

// openApp loads the config and opens the store, the indices and the similarity handle.
// Logging is off for one-shot commands unless --debug is set.
func openApp(cmd *cobra.Command, serve bool) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")
	asJSON, _ := cmd.Flags().GetBool("json")
	apiKey, _ := cmd.Flags().GetString("api-key")

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	debug = debug || cfg.Debug
	logger := zap.NewNop()
	if debug || serve {
		if logger, err = utils.NewLogger(debug); err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))

	a := &app{
		cfg:        cfg,
		configPath: resolved,
		credential: cfg.Embedding.APIKey,
		format:     cli.FormatFor(asJSON),
		logger:     logger,
	}
	if apiKey != "" {
		a.credential = apiKey
	}
	if err := a.init(); err != nil {
		a.close(cmd.Context())
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg := a.cfg
	var err error
	if a.store, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.KeywordIndexPath), 0o755); err != nil {
		return err
	}
	if a.keywords, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath); err != nil {
		return fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	a.embedder, err = embedding.New(embedding.Options{
		Provider:          cfg.Embedding.Provider,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		BaseURL:           cfg.Embedding.BaseURL,
		ModelPath:         cfg.Embedding.ModelPath,
		MaxTokens:         cfg.Embedding.MaxTokens,
		CacheSize:         cfg.Embedding.CacheSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	codec, err := vector.ParseCodec(cfg.Index.Codec)
	if err != nil {
		return err
	}
	engineOpts := vector.DefaultOptions()
	engineOpts.Type = vector.IndexType(cfg.Index.Type)
	engineOpts.Dimension = cfg.Index.Dimension

	a.handle = similarity.NewHandle(func() (*similarity.Search, error) {
		return similarity.Open(cfg.Storage.IndexDir, cfg.Index.Collection, a.embedder,
			similarity.WithLogger(a.logger),
			similarity.WithEngineOptions(engineOpts),
			similarity.WithCodec(codec),
		)
	}, a.logger)
	a.engine = search.NewEngine(a.store, a.keywords, a.handle, &cfg.Retrieval, a.logger)
	a.logger.Info("components initialized",
		zap.String("index_type", cfg.Index.Type),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("index_dir", cfg.Storage.IndexDir))
	return nil
}

// close saves and closes the similarity index, then the remaining components. Errors from
// the index close are returned; the rest are logged.
func (a *app) close(ctx context.Context) error {
	var err error
	if a.handle != nil {
		err = a.handle.Drop(ctx)
	}
	if a.keywords != nil {
		if cerr := a.keywords.Close(); cerr != nil {
			a.logger.Warn("keyword index close failed", zap.Error(cerr))
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	_ = a.logger.Sync()
	return err
}

// run opens the app, calls fn and closes the app, keeping the first error.
func run(cmd *cobra.Command, fn func(a *app) error) (err error) {
	a, err := openApp(cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(cmd.Context()); cerr != nil && err == nil {
			err = fmt.Errorf("close index: %w", cerr)
		}
	}()
	return fn(a)
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	servercommon "github.com/hylla/patchroulette/internal/adapters/server/common"
	"github.com/hylla/patchroulette/internal/adapters/storage/sqlite"
	"github.com/hylla/patchroulette/internal/app"
	"github.com/hylla/patchroulette/internal/config"
	"github.com/hylla/patchroulette/internal/platform"
)

// defaultAppName names config and data directories unless --app overrides it.
const defaultAppName = "patchroulette"

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// commandEnv bundles the opened store, service and logger for one command invocation.
type commandEnv struct {
	cfg    config.Config
	logger *runtimeLogger
	repo   *sqlite.Repository
	svc    *app.Service
	work   servercommon.WorkService
}

// newRootCmd assembles the patchroulette command tree.
func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "patchroulette",
		Short:         "Coordinate who ports which file of a patch",
		Long:          "patchroulette hands out the files of a published patch scope one contributor at a time and tracks how long each port took.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", defaultAppName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", false, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newServeCmd(opts),
		newPublishCmd(opts),
		newClearCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newScopesCmd(opts),
		newClaimCmd(opts),
		newTransitionCmd(opts, transitionRelease),
		newTransitionCmd(opts, transitionComplete),
		newTransitionCmd(opts, transitionReopen),
		newStatsCmd(opts),
		newActivityCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newPathsCmd(opts),
	)
	return root
}

// paths resolves platform paths for the selected app name and mode.
func (o *rootOptions) paths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// open loads configuration, starts logging and opens the store for one command.
func (o *rootOptions) open(ctx context.Context, stderr io.Writer, command string) (*commandEnv, error) {
	paths, err := o.paths()
	if err != nil {
		return nil, err
	}
	configPath := strings.TrimSpace(o.configPath)
	if configPath == "" {
		configPath = paths.ConfigPath
	}
	dbOverride := strings.TrimSpace(o.dbPath)

	cfg, err := config.Load(configPath, config.Default(paths.DBPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	cfg, err = config.ApplyEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}

	logger, err := newRuntimeLogger(stderr, o.appName, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.Debug("configuration loaded", "command", command, "config_path", configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level)
	if path := logger.FilePath(); path != "" {
		logger.Debug("file logging enabled", "path", path)
	}

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		_ = logger.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		_ = logger.Close()
		return nil, fmt.Errorf("ping sqlite repository: %w", err)
	}
	logger.Debug("sqlite repository ready", "db_path", cfg.Database.Path)

	svc := app.NewService(repo, uuid.NewString, time.Now, app.ServiceConfig{
		DefaultActivityLimit: cfg.Activity.DefaultLimit,
	})
	return &commandEnv{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		svc:    svc,
		work:   servercommon.NewAppServiceAdapter(svc),
	}, nil
}

// Close releases the store and the log file sink.
func (r *commandEnv) Close() {
	if r == nil {
		return
	}
	if err := r.repo.Close(); err != nil {
		r.logger.Warn("sqlite close failed", "db_path", r.cfg.Database.Path, "err", err)
	}
	_ = r.logger.Close()
}

// withRuntime opens a commandEnv around fn and logs the command outcome.
func withRuntime(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *commandEnv) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := opts.open(ctx, cmd.ErrOrStderr(), cmd.Name())
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Debug("command flow start", "command", cmd.Name())
	if err := fn(ctx, rt); err != nil {
		rt.logger.Debug("command flow failed", "command", cmd.Name(), "err", err)
		return err
	}
	rt.logger.Debug("command flow complete", "command", cmd.Name())
	return nil
}

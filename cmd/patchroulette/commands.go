package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/patchroulette/internal/adapters/server"
	servercommon "github.com/hylla/patchroulette/internal/adapters/server/common"
	"github.com/hylla/patchroulette/internal/app"
)

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var httpBind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				serverCfg := serveradapter.Config{
					HTTPBind:      rt.cfg.Server.HTTPBind,
					APIEndpoint:   rt.cfg.Server.APIEndpoint,
					MCPEndpoint:   rt.cfg.Server.MCPEndpoint,
					ServerName:    opts.appName,
					ServerVersion: version,
				}
				if cmd.Flags().Changed("http") {
					serverCfg.HTTPBind = httpBind
				}
				if cmd.Flags().Changed("api-endpoint") {
					serverCfg.APIEndpoint = apiEndpoint
				}
				if cmd.Flags().Changed("mcp-endpoint") {
					serverCfg.MCPEndpoint = mcpEndpoint
				}
				if err := serveCommandRunner(ctx, serverCfg, serveradapter.Dependencies{
					Work:   rt.work,
					Store:  rt.repo,
					Logger: rt.logger,
				}); err != nil {
					rt.logger.Error("serve failed", "err", err)
					return fmt.Errorf("run serve command: %w", err)
				}
				rt.logger.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (overrides server.http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base endpoint (overrides server.api_endpoint)")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint (overrides server.mcp_endpoint)")
	return cmd
}

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "publish <scope> [paths...]",
		Short: "Replace the files of a scope with fresh available units",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := append([]string(nil), args[1:]...)
			if file != "" {
				fromFile, err := readPathList(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				paths = append(paths, fromFile...)
			}
			if len(paths) == 0 {
				return errors.New("publish needs at least one path or --file")
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				units, err := rt.work.PublishScope(ctx, servercommon.PublishRequest{Scope: args[0], Paths: paths})
				if err != nil {
					return fmt.Errorf("publish scope %q: %w", args[0], err)
				}
				rt.logger.Info("scope published", "scope", args[0], "units", len(units))
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d units to %s\n", len(units), args[0])
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read paths from a file, one per line ('-' for stdin)")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <scope>",
		Short: "Remove every unit of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				if err := rt.work.ClearScope(ctx, args[0]); err != nil {
					return fmt.Errorf("clear scope %q: %w", args[0], err)
				}
				rt.logger.Info("scope cleared", "scope", args[0])
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
				return err
			})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var available bool
	cmd := &cobra.Command{
		Use:   "list <scope>",
		Short: "List the units of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				req := servercommon.ListUnitsRequest{Scope: args[0]}
				if available {
					req.Status = "available"
				}
				units, err := rt.work.ListUnits(ctx, req)
				if err != nil {
					return fmt.Errorf("list scope %q: %w", args[0], err)
				}
				return renderUnits(cmd.OutOrStdout(), units)
			})
		},
	}
	cmd.Flags().BoolVar(&available, "available", false, "only list unclaimed units")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <scope> <path>",
		Short: "Show one unit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				unit, err := rt.work.GetUnit(ctx, servercommon.TransitionRequest{Scope: args[0], Path: args[1]})
				if err != nil {
					return fmt.Errorf("show %s in %q: %w", args[1], args[0], err)
				}
				return renderUnits(cmd.OutOrStdout(), []servercommon.WorkUnit{unit})
			})
		},
	}
}

func newScopesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List published scopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				scopes, err := rt.work.ListScopes(ctx)
				if err != nil {
					return fmt.Errorf("list scopes: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(scopes) == 0 {
					_, err := fmt.Fprintln(out, "No scopes published.")
					return err
				}
				for _, scope := range scopes {
					if _, err := fmt.Fprintln(out, scope); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newClaimCmd(opts *rootOptions) *cobra.Command {
	var contributor string
	cmd := &cobra.Command{
		Use:   "claim <scope> <paths...>",
		Short: "Claim one or more available units",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				result, err := rt.work.ClaimUnits(ctx, servercommon.ClaimRequest{
					Scope:       args[0],
					Paths:       args[1:],
					Contributor: contributor,
				})
				if err != nil {
					return fmt.Errorf("claim in %q: %w", args[0], err)
				}
				rt.logger.Info("units claimed", "scope", args[0], "contributor", contributor, "claimed", len(result.Claimed), "requested", len(args)-1)
				out := cmd.OutOrStdout()
				if _, err := fmt.Fprintf(out, "claimed %d of %d\n", len(result.Claimed), len(args)-1); err != nil {
					return err
				}
				for _, path := range result.Claimed {
					if _, err := fmt.Fprintf(out, "  %s\n", path); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&contributor, "as", "", "contributor claiming the units")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

// transitionKind describes one single-unit state change command.
type transitionKind struct {
	use              string
	short            string
	past             string
	needsContributor bool
	apply            func(servercommon.WorkService) func(context.Context, servercommon.TransitionRequest) (servercommon.WorkUnit, error)
}

var (
	transitionRelease = transitionKind{
		use:   "release",
		short: "Return a claimed unit to the pool",
		past:  "released",
		apply: func(w servercommon.WorkService) func(context.Context, servercommon.TransitionRequest) (servercommon.WorkUnit, error) {
			return w.ReleaseUnit
		},
	}
	transitionComplete = transitionKind{
		use:              "complete",
		short:            "Mark a unit you own as done",
		past:             "completed",
		needsContributor: true,
		apply: func(w servercommon.WorkService) func(context.Context, servercommon.TransitionRequest) (servercommon.WorkUnit, error) {
			return w.CompleteUnit
		},
	}
	transitionReopen = transitionKind{
		use:              "reopen",
		short:            "Put a unit you completed back in progress",
		past:             "reopened",
		needsContributor: true,
		apply: func(w servercommon.WorkService) func(context.Context, servercommon.TransitionRequest) (servercommon.WorkUnit, error) {
			return w.ReopenUnit
		},
	}
)

func newTransitionCmd(opts *rootOptions, kind transitionKind) *cobra.Command {
	var contributor string
	cmd := &cobra.Command{
		Use:   kind.use + " <scope> <path>",
		Short: kind.short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				unit, err := kind.apply(rt.work)(ctx, servercommon.TransitionRequest{
					Scope:       args[0],
					Path:        args[1],
					Contributor: contributor,
				})
				if err != nil {
					return fmt.Errorf("%s %s in %q: %w", kind.use, args[1], args[0], err)
				}
				rt.logger.Info("unit "+kind.past, "scope", unit.Scope, "path", unit.Path, "contributor", contributor)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", kind.past, unit.Path, describeUnit(unit))
				return err
			})
		},
	}
	if kind.needsContributor {
		cmd.Flags().StringVar(&contributor, "as", "", "contributor performing the change")
		_ = cmd.MarkFlagRequired("as")
	}
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <scope>",
		Short: "Show progress and time spent per contributor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				stats, err := rt.work.ScopeStats(ctx, args[0])
				if err != nil {
					return fmt.Errorf("stats for %q: %w", args[0], err)
				}
				return renderStats(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newActivityCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "activity <scope>",
		Short: "Show recent changes in a scope, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0, got %d", limit)
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				events, err := rt.work.ListActivity(ctx, servercommon.ActivityRequest{Scope: args[0], Limit: limit})
				if err != nil {
					return fmt.Errorf("activity for %q: %w", args[0], err)
				}
				return renderActivity(cmd.OutOrStdout(), events)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of events (0 uses activity.default_limit)")
	return cmd
}

func newPathsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data and log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.paths()
			if err != nil {
				return err
			}
			configPath := paths.ConfigPath
			if strings.TrimSpace(opts.configPath) != "" {
				configPath = opts.configPath
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log: %s\n", paths.LogPath)
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var outPath string
	var scopes []string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSON snapshot of work unit state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				snap, err := rt.svc.ExportSnapshot(ctx, scopes...)
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				encoded, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshot json: %w", err)
				}
				encoded = append(encoded, '\n')
				rt.logger.Info("snapshot exported", "units", len(snap.Units), "out", outPath)

				if outPath == "-" {
					if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
						return fmt.Errorf("write snapshot to stdout: %w", err)
					}
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scopes to export (default all)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the scopes in a JSON snapshot with its work unit state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				content []byte
				err     error
			)
			if inPath == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(inPath)
			}
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot json: %w", err)
			}
			return withRuntime(cmd, opts, func(ctx context.Context, rt *commandEnv) error {
				if err := rt.svc.ImportSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				rt.logger.Info("snapshot imported", "units", len(snap.Units), "in", inPath)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d units\n", len(snap.Units))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&inPath, "in", "i", "", "input snapshot JSON file ('-' for stdin)")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// readPathList reads newline-separated paths, skipping blank lines and # comments.
func readPathList(stdin io.Reader, name string) ([]string, error) {
	var r io.Reader = stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open path list: %w", err)
		}
		defer f.Close()
		r = f
	}
	var paths []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read path list: %w", err)
	}
	return paths, nil
}

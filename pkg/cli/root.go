// Package cli implements the mcphub command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/mcphub/pkg/config"
	"github.com/jg-phare/mcphub/pkg/history"
	"github.com/jg-phare/mcphub/pkg/orchestrator"
)

const (
	exitValidation = 1
	exitRuntime    = 2

	defaultConfigPath = "mcphub.yaml"
	shutdownTimeout   = 30 * time.Second
)

// ExitError carries a process exit code back to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:          "mcphub",
		Short:        "Run and call many MCP tool servers from one place",
		SilenceUsage: true,
		Version:      version,
	}
	root.SetVersionTemplate(fmt.Sprintf("mcphub version %s\n", version))

	root.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the config file (.yaml, .toml or .json)")
	root.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	root.AddCommand(NewServersCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewCallCmd())
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewHistoryCmd())
	return root
}

// newLogger writes text logs to the command's stderr.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config. A missing default file yields the defaults; a
// missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Defaults(), "", nil
	}
	return nil, "", exitError(exitValidation, "%v", err)
}

// hub is an initialized orchestrator plus the config it was built from.
type hub struct {
	*orchestrator.Orchestrator
	cfg    *config.Config
	logger *slog.Logger
}

// openHub builds and initializes an orchestrator from cfg. Servers are
// registered but only connected when autoConnect is set.
func openHub(ctx context.Context, cfg *config.Config, logger *slog.Logger, autoConnect bool, opts ...orchestrator.Option) (*hub, error) {
	store, err := history.Open(cfg.History.Driver, cfg.History.Path)
	if err != nil {
		return nil, exitError(exitRuntime, "opening history store: %v", err)
	}

	base := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithServers(cfg.Servers...),
		orchestrator.WithAutoConnect(autoConnect),
	}
	if d := cfg.RequestTimeout.Std(); d > 0 {
		base = append(base, orchestrator.WithRequestTimeout(d))
	}
	if d := cfg.ShutdownGrace.Std(); d > 0 {
		base = append(base, orchestrator.WithGracePeriod(d))
	}
	if store != nil {
		base = append(base, orchestrator.WithHistoryStore(store))
	}
	o, err := orchestrator.New(append(base, opts...)...)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, exitError(exitRuntime, "%v", err)
	}
	if err := o.Init(ctx); err != nil {
		_ = o.Shutdown(ctx)
		return nil, exitError(exitValidation, "%v", err)
	}
	return &hub{Orchestrator: o, cfg: cfg, logger: logger}, nil
}

func (h *hub) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		h.logger.Warn("shutdown", "error", err)
	}
}

// connectOne connects the configured server id.
func (h *hub) connectOne(ctx context.Context, id string) error {
	if _, ok := h.cfg.Server(id); !ok {
		return exitError(exitValidation, "server %q is not configured", id)
	}
	if err := h.ConnectToServer(ctx, id); err != nil {
		return exitError(exitRuntime, "connecting %s: %v", id, err)
	}
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/mcphub/pkg/config"
	"github.com/jg-phare/mcphub/pkg/events"
	"github.com/jg-phare/mcphub/pkg/orchestrator"
	"github.com/jg-phare/mcphub/pkg/types"
)

// NewServeCmd creates the "serve" command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep servers running and stream hub events over a websocket",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Listen address (default from config, else :7777)")
	cmd.Flags().StringSlice("origin", nil, "Allowed websocket origin patterns (repeatable)")
	cmd.Flags().Bool("watch", true, "Reload servers when the config file changes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd)
	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = cfg.Events.Listen
	}
	origins, _ := cmd.Flags().GetStringSlice("origin")
	watch, _ := cmd.Flags().GetBool("watch")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := openHub(ctx, cfg, logger, cfg.AutoConnect)
	if err != nil {
		return err
	}
	defer h.close()

	if watch && path != "" {
		w := config.NewWatcher(path, func(next *config.Config) {
			res := h.SetServers(ctx, next.Servers)
			logger.Info("servers reconciled",
				"added", res.Added, "removed", res.Removed, "updated", res.Updated, "errors", len(res.Errors))
		}, logger)
		if err := w.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return exitError(exitRuntime, "listen %s: %v", listen, err)
	}
	srv := &http.Server{
		Handler:           newServeMux(h.Orchestrator, logger, origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "mcphub listening on %s\n", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		// Close the bus first so websocket handlers return.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		h.close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status   string              `json:"status"`
	Servers  []serverHealth      `json:"servers"`
	Builtins []string            `json:"builtins,omitempty"`
	Stats    []types.ServerStats `json:"stats"`
}

type serverHealth struct {
	ID        string                `json:"id"`
	State     types.ConnectionState `json:"state"`
	Tools     int                   `json:"tools"`
	LastError string                `json:"lastError,omitempty"`
}

func newServeMux(o *orchestrator.Orchestrator, logger *slog.Logger, origins []string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/events", events.NewWebSocketHandler(o.Events(),
		events.WithHandlerLogger(logger),
		events.WithOriginPatterns(origins...)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Builtins: o.Builtins().Names(), Stats: o.GetAllStats()}
		for _, s := range o.GetAllServers() {
			resp.Servers = append(resp.Servers, serverHealth{
				ID:        s.Config.ID,
				State:     s.State,
				Tools:     len(s.Tools),
				LastError: s.LastError,
			})
			if s.State == types.StateError {
				resp.Status = "degraded"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

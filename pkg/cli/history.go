package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jg-phare/mcphub/pkg/history"
	"github.com/jg-phare/mcphub/pkg/types"
)

// NewHistoryCmd creates the "history" command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show persisted tool executions, most recent first",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	cmd.Flags().String("server", "", "Only calls to this server")
	cmd.Flags().String("tool", "", "Only calls to this tool (glob patterns allowed)")
	cmd.Flags().String("session", "", "Only calls from this session")
	cmd.Flags().Int("limit", 20, "Maximum number of entries (0 = all)")
	cmd.Flags().Bool("json", false, "Print entries as JSON")
	cmd.Flags().Bool("clear", false, "Delete the persisted history instead of printing it")
	return cmd
}

// queryableStore filters in the backend.
type queryableStore interface {
	Query(ctx context.Context, f types.HistoryFilter) ([]types.ExecutionHistoryEntry, error)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.History.Driver, cfg.History.Path)
	if err != nil {
		return exitError(exitRuntime, "opening history store: %v", err)
	}
	if store == nil {
		return exitError(exitValidation, "history is not persisted (driver %q); set history.driver to jsonl or sqlite", history.DriverMemory)
	}
	defer store.Close()

	if wipe, _ := cmd.Flags().GetBool("clear"); wipe {
		if err := store.Clear(cmd.Context()); err != nil {
			return exitError(exitRuntime, "clearing history: %v", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
		return nil
	}

	var f types.HistoryFilter
	f.ServerID, _ = cmd.Flags().GetString("server")
	f.ToolName, _ = cmd.Flags().GetString("tool")
	f.SessionID, _ = cmd.Flags().GetString("session")
	f.Limit, _ = cmd.Flags().GetInt("limit")

	entries, err := queryHistory(cmd.Context(), store, f)
	if err != nil {
		return exitError(exitRuntime, "reading history: %v", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching executions.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSERVER\tTOOL\tRESULT\tDURATION\tSESSION")
	for _, e := range entries {
		result := "ok"
		if !e.Result.Success {
			result = "failed: " + firstLine(e.Result.Error)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Call.Timestamp.Local().Format(time.DateTime),
			e.Call.ServerID, e.Call.ToolName, result,
			e.Result.ExecutionTime.Round(time.Millisecond), e.Call.SessionID)
	}
	return w.Flush()
}

func queryHistory(ctx context.Context, store history.Store, f types.HistoryFilter) ([]types.ExecutionHistoryEntry, error) {
	if q, ok := store.(queryableStore); ok {
		return q.Query(ctx, f)
	}
	entries, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	log := history.NewLog()
	log.Restore(entries)
	return log.Query(f), nil
}

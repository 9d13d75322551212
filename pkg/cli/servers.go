package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jg-phare/mcphub/pkg/types"
)

// NewServersCmd creates the "servers" command.
func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Connect every configured server and show its state",
		Args:  cobra.NoArgs,
		RunE:  runServers,
	}
	cmd.Flags().Bool("json", false, "Print server status as JSON")
	return cmd
}

func runServers(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	h, err := openHub(cmd.Context(), cfg, newLogger(cmd), false)
	if err != nil {
		return err
	}
	defer h.close()

	failed := h.ConnectAllServers(cmd.Context())
	servers := h.GetAllServers()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(servers); err != nil {
			return err
		}
	} else {
		printServers(cmd, servers)
	}

	if len(failed) > 0 {
		return exitError(exitRuntime, "%d server(s) failed to connect", len(failed))
	}
	return nil
}

func printServers(cmd *cobra.Command, servers []types.ServerStatus) {
	if len(servers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No servers configured.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tTOOLS\tERROR")
	for _, s := range servers {
		state := string(s.State)
		if s.Config.Disabled {
			state += " (disabled)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			s.Config.ID, s.Config.DisplayName(), state, len(s.Tools), firstLine(s.LastError))
	}
	_ = w.Flush()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

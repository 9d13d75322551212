package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewToolsCmd creates the "tools" command.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools <server>",
		Short: "List the tools of one server",
		Args:  cobra.ExactArgs(1),
		RunE:  runTools,
	}
	cmd.Flags().Bool("json", false, "Print tools with their input schemas as JSON")
	return cmd
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	h, err := openHub(cmd.Context(), cfg, newLogger(cmd), false)
	if err != nil {
		return err
	}
	defer h.close()

	id := args[0]
	if err := h.connectOne(cmd.Context(), id); err != nil {
		return err
	}
	tools, err := h.GetServerTools(id)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(tools)
	}

	if len(tools) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Server %s exposes no tools.\n", id)
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSERVED BY\tDESCRIPTION")
	for _, t := range tools {
		servedBy := id
		if _, ok := h.Builtins().Get(t.Name); ok {
			servedBy = "builtin"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, servedBy, firstLine(t.Description))
	}
	return w.Flush()
}

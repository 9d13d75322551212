package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jg-phare/mcphub/pkg/types"
)

// NewCallCmd creates the "call" command.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Execute one tool and print its result",
		Args:  cobra.ExactArgs(2),
		RunE:  runCall,
	}
	cmd.Flags().String("args", "{}", "Tool arguments as a JSON object")
	cmd.Flags().String("session", "", "Session id recorded with the call")
	cmd.Flags().String("user", "", "User id recorded with the call")
	cmd.Flags().Bool("json", false, "Print the full result as JSON")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	serverID, toolName := args[0], args[1]
	rawArgs, _ := cmd.Flags().GetString("args")
	session, _ := cmd.Flags().GetString("session")
	user, _ := cmd.Flags().GetString("user")

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(rawArgs)), &toolArgs); err != nil {
		return exitError(exitValidation, "--args must be a JSON object: %v", err)
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	h, err := openHub(cmd.Context(), cfg, newLogger(cmd), false)
	if err != nil {
		return err
	}
	defer h.close()

	if err := h.connectOne(cmd.Context(), serverID); err != nil {
		return err
	}
	res := h.ExecuteTool(cmd.Context(), serverID, toolName, toolArgs, types.ExecContext{SessionID: session, UserID: user})

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.Success {
		printContent(cmd, res.Content)
	}

	if !res.Success {
		return exitError(exitRuntime, "%s", res.Error)
	}
	return nil
}

func printContent(cmd *cobra.Command, items []types.ContentItem) {
	out := cmd.OutOrStdout()
	for _, c := range items {
		switch c.Type {
		case types.ContentText:
			fmt.Fprintln(out, c.Text)
		case types.ContentImage:
			fmt.Fprintf(out, "[image %s, %d bytes base64]\n", c.MimeType, len(c.Data))
		case types.ContentResource:
			if c.Text != "" {
				fmt.Fprintln(out, c.Text)
			} else {
				fmt.Fprintf(out, "[resource %s]\n", c.URI)
			}
		}
	}
}

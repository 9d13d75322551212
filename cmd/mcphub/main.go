// Command mcphub runs a fleet of MCP tool servers and routes tool calls to them.
package main

import (
	"errors"
	"os"

	"github.com/jg-phare/mcphub/pkg/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

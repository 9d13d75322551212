package mcp

import (
	"github.com/jg-phare/mcphub/pkg/types"
)

// Platform families with distinct launcher conventions.
const (
	PlatformWindows = "windows"
	PlatformUnix    = "unix"
)

// launcher wraps a package runner for one platform family.
type launcher struct {
	shell []string // prefix that hosts the runner, e.g. "cmd /c"
}

var launchers = map[string]launcher{
	PlatformWindows: {shell: []string{"cmd", "/c"}},
	PlatformUnix:    {},
}

// packageRef names a runnable package and the runner that starts it.
type packageRef struct {
	runner     string
	runnerArgs []string
	pkg        string
}

func npx(pkg string) packageRef { return packageRef{runner: "npx", runnerArgs: []string{"-y"}, pkg: pkg} }

// knownServers maps well-known server ids to their published packages.
var knownServers = map[string]packageRef{
	"filesystem":          npx("@modelcontextprotocol/server-filesystem"),
	"memory":              npx("@modelcontextprotocol/server-memory"),
	"github":              npx("@modelcontextprotocol/server-github"),
	"brave-search":        npx("@modelcontextprotocol/server-brave-search"),
	"sequential-thinking": npx("@modelcontextprotocol/server-sequential-thinking"),
	"puppeteer":           npx("@modelcontextprotocol/server-puppeteer"),
	"fetch":               npx("@modelcontextprotocol/server-fetch"),
}

// PlatformFamily maps a GOOS value to its launcher family.
func PlatformFamily(goos string) string {
	if goos == "windows" {
		return PlatformWindows
	}
	return PlatformUnix
}

// ResolveCommand returns the executable and arguments used to start cfg on goos.
// An explicit Command always wins. Otherwise known ids resolve through the
// package table and unknown ids through the generic
// "@modelcontextprotocol/server-<id>" template, both wrapped in the platform's
// launcher. Configured Args are appended last.
func ResolveCommand(cfg types.ServerConfig, goos string) (string, []string) {
	if cfg.Command != "" {
		return cfg.Command, append([]string(nil), cfg.Args...)
	}

	ref, ok := knownServers[cfg.ID]
	if !ok {
		ref = npx("@modelcontextprotocol/server-" + cfg.ID)
	}

	argv := append([]string(nil), launchers[PlatformFamily(goos)].shell...)
	argv = append(argv, ref.runner)
	argv = append(argv, ref.runnerArgs...)
	argv = append(argv, ref.pkg)
	argv = append(argv, cfg.Args...)
	return argv[0], argv[1:]
}

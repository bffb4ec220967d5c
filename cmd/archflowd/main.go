// Command archflowd runs the archflow orchestration core: the Flow Engine,
// the MCP tool/resource surface, the LLM Provider registry, and the
// supporting Event Bus / Conversation Manager / Audit / Metrics components,
// or exercises pieces of that stack offline (workflow validation, MCP client
// calls) without standing up the whole process.
//
// # Basic Usage
//
// Start the daemon:
//
//	archflowd serve --config archflow.yaml
//
// Validate or run a workflow definition file without a server:
//
//	archflowd workflow validate ./flows/onboarding.yaml
//	archflowd workflow run ./flows/onboarding.yaml --input '{"value":"hi"}'
//
// Call a tool on a running MCP endpoint:
//
//	archflowd mcp call --addr localhost:7700 echo '{"value":"hi"}'
//
// # Environment Variables
//
//   - ARCHFLOW_ENV: deployment profile (development|staging|production|testing)
//   - ARCHFLOW_*: any Config field except Providers, per internal/config's env overlay
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "archflowd",
		Short: "archflow orchestration core",
		Long: `archflowd runs the Flow Engine, MCP surface, and LLM Provider registry
that make up the archflow orchestration core, and offers offline subcommands
for validating and running workflow definitions and poking a running MCP
endpoint.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildWorkflowCmd(),
		buildMCPCmd(),
	)
	return root
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/archflow/archflow/flow"
	"github.com/archflow/archflow/internal/config"
	"github.com/archflow/archflow/mcp"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the archflow orchestration core",
		Long: `serve loads configuration, wires the Provider registry, Event Bus, MCP
surface, Tool registry, Conversation Manager, and Flow Engine (in that
order), and blocks until SIGINT/SIGTERM.`,
		Example: "archflowd serve --config archflow.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			logger := initLogger(cfg.Log)
			defer logger.Sync()

			rt, err := newRuntime(cfg, configPath, logger)
			if err != nil {
				return fmt.Errorf("wiring runtime: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := rt.Start(ctx); err != nil {
				return fmt.Errorf("starting runtime: %w", err)
			}
			logger.Info("archflowd started", zap.String("mcp_addr", cfg.MCP.ListenAddr), zap.String("environment", string(cfg.Environment)))

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return rt.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to archflow.yaml")
	return cmd
}

func buildWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Validate or run a workflow definition file offline",
	}
	cmd.AddCommand(buildWorkflowValidateCmd(), buildWorkflowRunCmd())
	return cmd
}

func buildWorkflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "validate <file>",
		Short:   "Parse and structurally validate a workflow definition",
		Args:    cobra.ExactArgs(1),
		Example: "archflowd workflow validate ./flows/onboarding.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			if err := def.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid, %d nodes, entry %q\n", def.Name, len(def.Nodes), def.Entry)
			return nil
		},
	}
}

func buildWorkflowRunCmd() *cobra.Command {
	var inputJSON string
	var configPath string

	cmd := &cobra.Command{
		Use:     "run <file>",
		Short:   "Compile and execute a workflow definition in an in-process runtime",
		Args:    cobra.ExactArgs(1),
		Example: `archflowd workflow run ./flows/onboarding.yaml --input '{"value":"hi"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}

			cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := initLogger(cfg.Log)
			defer logger.Sync()

			rt, err := newRuntime(cfg, configPath, logger)
			if err != nil {
				return fmt.Errorf("wiring runtime: %w", err)
			}
			if err := rt.registerWorkflow(def.Name, def); err != nil {
				return err
			}

			input := map[string]any{}
			if inputJSON != "" {
				if err := json.Unmarshal([]byte(inputJSON), &input); err != nil {
					return fmt.Errorf("parsing --input: %w", err)
				}
			}

			ex, err := rt.engine.Execute(context.Background(), def.Name, input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", ex.GetStatus())
			return nil
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "JSON object passed as the workflow's initial input")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to archflow.yaml")
	return cmd
}

func loadDefinition(path string) (*flow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return flow.ParseDefinitionYAML(data)
}

func buildMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Interact with a running MCP endpoint",
	}
	cmd.AddCommand(buildMCPCallCmd())
	return cmd
}

func buildMCPCallCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "call <tool> [args-json]",
		Short:   "Call a tool on a running archflowd MCP endpoint",
		Args:    cobra.RangeArgs(1, 2),
		Example: `archflowd mcp call --addr localhost:7700 echo '{"value":"hi"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("dialing %s: %w", addr, err)
			}
			defer conn.Close()

			transport := mcp.NewLineTransport(conn, conn, nil)
			client := mcp.NewClient(transport, nil)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := client.Initialize(ctx, mcp.ClientInfo{Name: "archflowd-cli", Version: version}, mcp.ClientCapabilities{}); err != nil {
				return fmt.Errorf("initializing mcp session: %w", err)
			}

			callArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
					return fmt.Errorf("parsing args json: %w", err)
				}
			}

			result, err := client.CallTool(ctx, args[0], callArgs)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:7700", "host:port of the archflowd MCP listener")
	return cmd
}

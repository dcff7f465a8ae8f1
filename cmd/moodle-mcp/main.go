package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ironsheep/moodle-forum-mcp/internal/config"
	"github.com/ironsheep/moodle-forum-mcp/internal/logging"
	"github.com/ironsheep/moodle-forum-mcp/internal/paths"
	"github.com/ironsheep/moodle-forum-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const envHelp = `
Environment variables (override the config file and .env):
  MOODLE_BASE_URL        Moodle site root, e.g. https://moodle.example.edu
  MOODLE_TOKEN           Web service token
  MOODLE_TIMEOUT         Request timeout in seconds (default: 60)
  MOODLE_SMART_ID_GUARD  Detect forum ids passed as discussion ids (default: true)
  MOODLE_SEARCH_PERPAGE  Default search page size (default: 20, max: 50)
  OPENAI_API_KEY         Enables summarize_discussion
  OPENAI_MODEL           Completion model
  OPENAI_BASE_URL        Alternative OpenAI-compatible endpoint
  SUMMARY_BUDGET         Digest budget for summaries
  SUMMARY_BUDGET_UNIT    chars or tokens (default: chars)
  LOG_LEVEL              debug, info, warn, error (default: info)
  LOG_JSON               Log JSON lines instead of console text

This server communicates via MCP protocol over stdin/stdout.
Configure it in your MCP client (e.g., Claude Desktop).
`

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "moodle-mcp",
		Short: "MCP server for read-only Moodle forum access",
		Long: "moodle-mcp exposes Moodle courses, forums and discussions to AI assistants.\n" +
			"Config file: --config, $" + paths.ConfigEnv + ", or the first of the standard locations.\n" + envHelp,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	})

	return cmd
}

func versionString() string {
	return fmt.Sprintf("moodle-mcp %s\n  Build time: %s\n  Git commit: %s", Version, BuildTime, GitCommit)
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "moodle-mcp: %v\n", err)
		return err
	}

	log := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	log.Info().
		Str("version", Version).
		Str("commit", GitCommit).
		Str("config", cfg.Source).
		Str("moodle", cfg.Moodle.BaseURL).
		Str("token", logging.Redact(cfg.Moodle.Token, 4)).
		Msg("starting")

	// Tools still answer with a clear error when Moodle is unconfigured.
	if err := cfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("incomplete configuration")
	}

	srv, err := server.FromConfig(cfg, Version, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build server")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}
	return nil
}

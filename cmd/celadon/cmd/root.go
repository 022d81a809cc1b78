// Package cmd implements the celadon command line interface. Each
// subcommand mirrors one workflow operation and prints its JSON result.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/engine"
	"github.com/celadon-dev/celadon/internal/relay"
	"github.com/celadon-dev/celadon/internal/state"
	"github.com/celadon-dev/celadon/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:           "celadon",
	Short:         "Workflow service driving projects from idea to delivery",
	Long:          "celadon orchestrates a project lifecycle: idea clarification, PRD generation, development runs through a coding agent, and simulated deployment.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the CLI logger. Subcommands that print JSON results
// keep log output on stderr at warn level unless overridden.
func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	level := zerolog.WarnLevel
	if cfg.LogLevel != "" {
		if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	return logger.Level(level)
}

// buildService wires the single-tenant file service used by every
// workflow subcommand.
func buildService() (*workflow.Service, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	logger := newLogger(cfg)

	resolver := config.NewResolver(nil, logger)
	gw := engine.NewGateway(resolver, cfg.EngineURL, cfg.SessionDir(), logger)
	backend := state.NewFileBackend(logger)
	svc := workflow.New(backend, gw, relay.New(logger), nil, "", logger)
	return svc, cfg.Storage(), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

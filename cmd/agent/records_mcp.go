package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"teacher-agent/internal/adapter/records"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/infra/logger"
)

// newRecordsMCPCmd serves the student_snapshot tool over stdio from the
// configured SQL store, for use as records.driver "mcp" by another agent.
func newRecordsMCPCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "records-mcp",
		Short: "Serve student records as an MCP tool over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.Records.Driver == "mcp" || cfg.Records.Driver == "none" || cfg.Records.Driver == "" {
				return fmt.Errorf("records-mcp needs a sqlite or postgres records driver, got %q", cfg.Records.Driver)
			}

			// stdout carries the protocol, so logs must not go there.
			logCfg := cfg.Logger
			if logCfg.Output == "" || logCfg.Output == "stdout" {
				logCfg.Output = "stderr"
			}
			log, logCloser, err := logger.New(logCfg)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			defer logCloser()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			store, err := records.OpenStore(ctx, cfg.Records, log)
			if err != nil {
				return fmt.Errorf("records: %w", err)
			}
			defer store.Close()

			srv := records.NewMCPServer(records.NewDirectory(store, log), version, log)
			log.Info("records mcp server listening on stdio", "driver", cfg.Records.Driver)
			return records.ServeStdio(ctx, srv, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}
}

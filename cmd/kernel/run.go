package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/finger-kernel/kernel/internal/chatengine"
	"github.com/finger-kernel/kernel/internal/config"
	"github.com/finger-kernel/kernel/internal/ioboundary"
	"github.com/finger-kernel/kernel/internal/kernel"
	"github.com/finger-kernel/kernel/internal/ledger"
	"github.com/finger-kernel/kernel/internal/observability"
	"github.com/finger-kernel/kernel/internal/protocol"
)

func buildRunCmd() *cobra.Command {
	var (
		providerID    string
		toolDaemonURL string
		toolAgentID   string
		sessionID     string
		ledgerRoot    string
		serveMetrics  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kernel's stdio submission/event loop",
		Long: `Reads newline-delimited Submission JSON from stdin, runs one turn at a
time through the Responses chat engine, and writes newline-delimited Event
JSON to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := config.Overrides{ProviderID: providerID, ToolDaemonURL: toolDaemonURL, ToolAgentID: toolAgentID}
			userCfg, err := config.LoadUserConfig(config.ResolveConfigPath())
			if err != nil {
				return fmt.Errorf("load user config: %w", err)
			}
			resolved := config.Load(overrides, userCfg)

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			var metrics *observability.Metrics
			if serveMetrics != "" {
				metrics = observability.NewMetrics()
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(serveMetrics, mux); err != nil {
						slog.Error("metrics server exited", "error", err)
					}
				}()
				slog.Info("serving prometheus metrics", "addr", serveMetrics)
			}

			transport := &chatengine.Transport{BaseURL: resolved.Provider.BaseURL, APIKey: resolved.APIKey}
			engine := chatengine.NewResponsesChatEngine(transport, resolved.Provider.Model)
			engine.Metrics = metrics

			var ledgerFactory kernel.LedgerFactory
			if ledgerRoot != "" {
				ledgerFactory = func(opts *protocol.UserTurnOptions) *ledger.Ledger {
					if opts == nil || opts.ContextLedger == nil || !opts.ContextLedger.Enabled {
						return nil
					}
					cfg := ledger.Config{
						RootDir:        ledgerRoot,
						SessionID:      sessionID,
						AgentID:        opts.ContextLedger.AgentID,
						Mode:           opts.ContextLedger.Mode,
						CanReadAll:     opts.ContextLedger.CanReadAll,
						ReadableAgents: opts.ContextLedger.ReadableAgents,
						FocusEnabled:   opts.ContextLedger.FocusEnabled,
						FocusMaxChars:  opts.ContextLedger.FocusMaxChars,
					}
					if cfg.AgentID == "" {
						cfg.AgentID = resolved.ToolAgentID
					}
					l, err := ledger.New(cfg)
					if err != nil {
						slog.Error("ledger config rejected", "error", err)
						return nil
					}
					return l
				}
			}

			rtCfg := kernel.DefaultConfig()
			rtCfg.SessionID = sessionID
			rt := kernel.SpawnWithEngine(rtCfg, engine, ledgerFactory)

			return ioboundary.Run(os.Stdin, os.Stdout, slog.Default(), rt)
		},
	}

	cmd.Flags().StringVar(&providerID, "provider", "", "Provider id override (crsa|crsb)")
	cmd.Flags().StringVar(&toolDaemonURL, "tool-daemon-url", "", "Tool execution daemon URL override")
	cmd.Flags().StringVar(&toolAgentID, "tool-agent-id", "", "Tool execution agent id override")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id (random uuid if unset)")
	cmd.Flags().StringVar(&ledgerRoot, "ledger-root", "", "Root directory for the context ledger (disabled if unset)")
	cmd.Flags().StringVar(&serveMetrics, "serve-metrics", "", "Address to serve Prometheus metrics on (e.g. :9464); disabled if unset")

	return cmd
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finger-kernel/kernel/internal/ledger"
)

func buildLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect a context ledger directory",
	}
	cmd.AddCommand(buildLedgerQueryCmd())
	return cmd
}

func buildLedgerQueryCmd() *cobra.Command {
	var (
		root       string
		sessionID  string
		agentID    string
		mode       string
		limit      int
		contains   string
		fuzzy      bool
		canReadAll bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query one agent's context ledger and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ledger.New(ledger.Config{
				RootDir:    root,
				SessionID:  sessionID,
				AgentID:    agentID,
				Mode:       mode,
				CanReadAll: canReadAll,
			})
			if err != nil {
				return err
			}

			resp, err := l.Query(ledger.QueryRequest{
				AgentID:  agentID,
				Limit:    limit,
				Contains: contains,
				Fuzzy:    fuzzy,
			})
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", ".", "Ledger root directory")
	cmd.Flags().StringVar(&sessionID, "session", "finger-kernel", "Session id")
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent id to query (required)")
	cmd.Flags().StringVar(&mode, "mode", "default", "Mode scope")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to return")
	cmd.Flags().StringVar(&contains, "contains", "", "Substring/fuzzy filter")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "Use bigram fuzzy matching for --contains")
	cmd.Flags().BoolVar(&canReadAll, "can-read-all", true, "Set the ledger's can-read-all permission (only checked when reading another agent's ledger; this command always queries --agent itself)")
	_ = cmd.MarkFlagRequired("agent")

	return cmd
}

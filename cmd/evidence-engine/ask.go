// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/orchestrator"
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question within a conversation session",
	Long: `Ask runs one conversational turn. The query is routed against the session:
new topics get a full review, close follow-ups are answered from or extend the
session's graded evidence. Without --session a new session is started and its
identifier printed so later turns can continue it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		if query == "" {
			return fmt.Errorf("--query is required")
		}
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		owner, _ := cmd.Flags().GetString("owner")
		maxIter, _ := cmd.Flags().GetInt("max-iterations")
		render, _ := cmd.Flags().GetBool("render")

		ctx := cmd.Context()
		engine, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		resp, err := engine.Ask(ctx, orchestrator.AskRequest{
			Query:         query,
			SessionID:     sessionID,
			OwnerID:       owner,
			MaxIterations: maxIter,
		})
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd, os.Stdout, resp); ok || err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, mutedStyle.Render(fmt.Sprintf("session %s, route %s", resp.SessionID, resp.Decision.Route)))
		if resp.Failed {
			writeFailure(os.Stdout, resp.Answer)
			return nil
		}
		fmt.Fprintln(os.Stdout, renderMarkdown(resp.Answer, render))
		return nil
	},
}

func init() {
	askCmd.Flags().String("query", "", "user query")
	askCmd.Flags().String("session", "", "session identifier (default: new session)")
	askCmd.Flags().String("owner", "", "owner recorded on a new session")
	askCmd.Flags().Int("max-iterations", 0, "maximum retrieval passes for a full review")
	askCmd.Flags().Bool("render", false, "render the answer as formatted markdown")
	addFormatFlags(askCmd)

	rootCmd.AddCommand(askCmd)
}

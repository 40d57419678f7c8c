// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Show how a follow-up query would be routed",
	Long: `Route classifies a query against a session's cached context without running
it: context_qa answers from cached documents, augmented_context adds a narrow
search, full_graph starts a new review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query, _ := cmd.Flags().GetString("query")
		if query == "" {
			return fmt.Errorf("--query is required")
		}
		sessionID, _ := cmd.Flags().GetString("session")

		ctx := cmd.Context()
		engine, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		decision, err := engine.RouteFollowup(ctx, query, sessionID)
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd, os.Stdout, decision); ok || err != nil {
			return err
		}
		writeDecision(os.Stdout, decision)
		return nil
	},
}

func init() {
	routeCmd.Flags().String("query", "", "follow-up query")
	routeCmd.Flags().String("session", "", "session to route against")
	addFormatFlags(routeCmd)

	rootCmd.AddCommand(routeCmd)
}

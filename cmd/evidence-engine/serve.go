// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the engine as MCP tools over stdio",
	Long: `Serve exposes run_crag, route_followup, ask, get_session and delete_session
as Model Context Protocol tools on stdin/stdout. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		return mcpserver.Serve(mcpserver.New(engine, version, logger.Named("mcp")))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

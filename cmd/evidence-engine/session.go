// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/synth"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage conversation sessions",
}

// --- show subcommand ---

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's context and message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		sess, err := engine.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("session %q not found", args[0])
		}
		if ok, err := writeStructured(cmd, os.Stdout, sess); ok || err != nil {
			return err
		}

		w := os.Stdout
		title := sess.Title
		if title == "" {
			title = sess.ID
		}
		fmt.Fprintln(w, headerStyle.Render(title))
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d turn(s), updated %s",
			sess.TurnCount, sess.UpdatedAt.Format("2006-01-02 15:04"))))
		if sess.OriginalQuery != "" {
			fmt.Fprintf(w, "\nQuestion: %s\n", sess.OriginalQuery)
		}
		if refs := synth.FormatReferences(sess.Documents); refs != "" {
			fmt.Fprintf(w, "\nDocuments:\n%s\n", refs)
		}
		for _, m := range sess.Messages {
			fmt.Fprintf(w, "\n%s %s\n%s\n", headerStyle.Render(string(m.Role)),
				mutedStyle.Render(string(m.Route)), m.Content)
		}
		return nil
	},
}

// --- list subcommand ---

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		ctx := cmd.Context()
		engine, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		list, err := engine.ListSessions(ctx, owner, limit, offset)
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd, os.Stdout, list); ok || err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		fmt.Fprintf(os.Stdout, "%-36s  %-5s  %-8s  %-16s  %s\n", "ID", "Turns", "Messages", "Updated", "Title")
		fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))
		for _, s := range list {
			title := s.Title
			if len(title) > 40 {
				title = title[:37] + "..."
			}
			fmt.Fprintf(os.Stdout, "%-36s  %-5d  %-8d  %-16s  %s\n",
				s.ID, s.TurnCount, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"), title)
		}
		return nil
	},
}

// --- delete subcommand ---

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := openEngine(ctx, cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		ok, err := engine.DeleteSession(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("session %q not found", args[0])
		}
		fmt.Printf("Deleted session %s\n", args[0])
		return nil
	},
}

func init() {
	addFormatFlags(sessionShowCmd)

	sessionListCmd.Flags().String("owner", "", "only sessions of this owner")
	sessionListCmd.Flags().Int("limit", 20, "maximum sessions to list")
	sessionListCmd.Flags().Int("offset", 0, "sessions to skip")
	addFormatFlags(sessionListCmd)

	sessionCmd.AddCommand(sessionShowCmd, sessionListCmd, sessionDeleteCmd)
	rootCmd.AddCommand(sessionCmd)
}

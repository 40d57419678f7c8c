// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/evidence-engine/internal/crag"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Run a full graded literature review for a question",
	Long: `Review runs the retrieve-grade loop for a research question: it expands the
question into PubMed queries, grades every abstract, retrieves again while the
evidence is insufficient, and synthesizes a cited review from the graded
documents. With --session the review becomes that session's context.`,
	RunE: runReview,
}

func runReview(cmd *cobra.Command, args []string) error {
	question, _ := cmd.Flags().GetString("question")
	if question == "" {
		return fmt.Errorf("--question is required")
	}
	sessionID, _ := cmd.Flags().GetString("session")
	maxIter, _ := cmd.Flags().GetInt("max-iterations")
	render, _ := cmd.Flags().GetBool("render")

	ctx := cmd.Context()
	engine, err := openEngine(ctx, cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.RunCRAG(ctx, question, sessionID, maxIter)
	if err != nil {
		if errors.Is(err, crag.ErrRunAborted) {
			writeFailure(os.Stdout, crag.AbortedMessage)
		}
		return err
	}

	if ok, err := writeStructured(cmd, os.Stdout, res); ok || err != nil {
		return err
	}
	writeReview(os.Stdout, res, render)
	return nil
}

func init() {
	reviewCmd.Flags().String("question", "", "research question")
	reviewCmd.Flags().String("session", "", "session to record the review in")
	reviewCmd.Flags().Int("max-iterations", 0, "maximum retrieval passes (default from config)")
	reviewCmd.Flags().Bool("render", false, "render the review as formatted markdown")
	addFormatFlags(reviewCmd)

	rootCmd.AddCommand(reviewCmd)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/evidence-engine/internal/crag"
	"github.com/pdiddy/evidence-engine/internal/synth"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F38BA8"))
)

// addFormatFlags registers the structured output flags.
func addFormatFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", false, "output as JSON")
	cmd.Flags().Bool("yaml", false, "output as YAML")
}

// writeStructured writes v as JSON or YAML when the matching flag is set.
// It reports whether anything was written.
func writeStructured(cmd *cobra.Command, w io.Writer, v any) (bool, error) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	}
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

// renderMarkdown formats markdown for the terminal; plain text is returned
// unchanged when render is false or the renderer fails.
func renderMarkdown(md string, render bool) string {
	if !render {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

// reviewMarkdown assembles the review body and its reference list.
func reviewMarkdown(res *crag.Result) string {
	var b strings.Builder
	b.WriteString(res.Synthesis)
	if refs := synth.FormatReferences(res.Documents); refs != "" {
		b.WriteString("\n\n## References\n\n")
		b.WriteString(refs)
	}
	return b.String()
}

// writeReview prints a CRAG result for humans.
func writeReview(w io.Writer, res *crag.Result, render bool) {
	fmt.Fprintln(w, headerStyle.Render(res.Question))
	status := fmt.Sprintf("%d pass(es), %d graded document(s), decision %s",
		len(res.Passes), len(res.Grades), res.Decision)
	if res.BudgetExhausted {
		status += ", iteration budget exhausted"
	}
	fmt.Fprintln(w, mutedStyle.Render(status))
	fmt.Fprintln(w)
	fmt.Fprintln(w, renderMarkdown(reviewMarkdown(res), render))
}

// writeDecision prints a routing decision for humans.
func writeDecision(w io.Writer, d types.RouterDecision) {
	fmt.Fprintf(w, "%s %s\n", headerStyle.Render("route:"), d.Route)
	fmt.Fprintf(w, "similarity: %.2f\n", d.SimilarityScore)
	if d.FollowUpFocus != "" {
		fmt.Fprintf(w, "focus: %s\n", d.FollowUpFocus)
	}
	if d.IsNewSession {
		fmt.Fprintln(w, "new session")
	}
	fmt.Fprintln(w, mutedStyle.Render(d.Reasoning))
}

// writeFailure prints the user-visible failure text.
func writeFailure(w io.Writer, msg string) {
	fmt.Fprintln(w, warnStyle.Render(msg))
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synth

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// pmidPattern matches "PMID 123", "PMID: 123" and "PMIDs 123, 456".
var pmidPattern = regexp.MustCompile(`(?i)\bPMIDs?[:#]?\s*((?:\d+)(?:\s*(?:,|and|;)\s*\d+)*)`)

var digitsPattern = regexp.MustCompile(`\d+`)

// CitedPMIDs returns the distinct PMIDs cited in text, in order of first
// appearance.
func CitedPMIDs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range pmidPattern.FindAllStringSubmatch(text, -1) {
		for _, id := range digitsPattern.FindAllString(m[1], -1) {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// UnknownCitations returns the PMIDs cited in review that are not among
// docs, sorted.
func UnknownCitations(review string, docs []types.ScoredDocument) []string {
	known := make(map[string]bool, len(docs))
	for _, d := range docs {
		known[d.ID] = true
	}
	var missing []string
	for _, id := range CitedPMIDs(review) {
		if !known[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

// FormatReferences renders a numbered reference list for docs.
func FormatReferences(docs []types.ScoredDocument) string {
	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "%d. %s", i+1, d.Title)
		if d.Venue != "" {
			fmt.Fprintf(&b, " %s.", d.Venue)
		}
		if d.Year > 0 {
			fmt.Fprintf(&b, " %d.", d.Year)
		}
		fmt.Fprintf(&b, " PMID: %s", d.ID)
		if d.Graded {
			fmt.Fprintf(&b, " (quality %.2f)", d.QualityScore)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package synth writes a structured literature review from graded
// evidence.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// InsufficientEvidence is returned, without calling the backend, when
// there are no documents to review.
const InsufficientEvidence = "Insufficient high-quality evidence available to generate a structured review."

const synthesisSystem = "You are a medical research writer producing a structured systematic review. You only use the papers you are given and never invent citations."

var synthesisPromptTmpl = template.Must(template.New("synthesis").Funcs(template.FuncMap{
	"score": formatScore,
}).Parse(`Research question:
{{.Question}}

You are given papers with quality scores from 0.0 to 1.0.

Instructions:
- Focus primarily on high-quality papers (score 0.70 or above).
- Mention low-quality evidence separately as a limitation.
- Be precise, cautious and evidence-based, in a neutral scientific tone.
- For each study mentioned, include its PMID in parentheses.

Write the review in exactly this structure:

1. Background
2. Summary of High-Quality Evidence
3. Summary of Lower-Quality or Conflicting Evidence
4. Limitations of Current Evidence
5. Conclusion

Papers:
{{range $i, $d := .Docs}}{{if $i}}
{{end}}
PMID: {{$d.ID}}
Quality Score: {{score $d}}
{{- if $d.StudyType}}
Study Type: {{$d.StudyType}}
{{- end}}
Title: {{$d.Title}}
Abstract: {{$d.Abstract}}
{{end}}`))

func formatScore(d types.ScoredDocument) string {
	if !d.Graded {
		return fmt.Sprintf("%.2f (ungraded)", d.QualityScore)
	}
	return fmt.Sprintf("%.2f", d.QualityScore)
}

// Synthesizer turns documents into a review.
type Synthesizer struct {
	gen    llm.Generator
	logger *zap.Logger
}

// New creates a Synthesizer.
func New(gen llm.Generator, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{gen: gen, logger: logger}
}

// Synthesize writes a review of docs for question. Ungraded documents are
// included and marked as such in the prompt.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, docs []types.ScoredDocument) (string, error) {
	if len(docs) == 0 {
		return InsufficientEvidence, nil
	}

	var buf bytes.Buffer
	if err := synthesisPromptTmpl.Execute(&buf, struct {
		Question string
		Docs     []types.ScoredDocument
	}{question, docs}); err != nil {
		return "", fmt.Errorf("rendering synthesis prompt: %w", err)
	}

	review, err := s.gen.Generate(ctx, synthesisSystem, buf.String())
	if err != nil {
		return "", fmt.Errorf("synthesizing review: %w", err)
	}
	review = strings.TrimSpace(review)

	if unknown := UnknownCitations(review, docs); len(unknown) > 0 {
		s.logger.Warn("review cites documents that were not supplied", zap.Strings("pmids", unknown))
	}
	s.logger.Info("synthesis complete", zap.Int("documents", len(docs)), zap.Int("review_chars", len(review)))
	return review, nil
}

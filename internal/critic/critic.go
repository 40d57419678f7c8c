// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package critic grades retrieved documents against a research question
// and decides whether the evidence set is sufficient.
package critic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// AcceptanceMemory supplies the historical bias for a query and records
// documents accepted on sufficient decisions.
type AcceptanceMemory interface {
	BiasFor(ctx context.Context, query string) (float64, error)
	Record(ctx context.Context, query string, accepted []types.Acceptance) error
}

const gradingSystem = "You are a clinical epidemiologist appraising biomedical literature. You respond only with a single JSON object."

var gradingPromptTmpl = template.Must(template.New("grading").Parse(`Assess how well the document below answers the research question and how strong its methodology is.

Research question:
{{.Question}}

Document:
Title: {{.Doc.Title}}
{{- if .Doc.Year}}
Year: {{.Doc.Year}}
{{- end}}
{{- if .Doc.Venue}}
Journal: {{.Doc.Venue}}
{{- end}}
Abstract: {{.Doc.Abstract}}

Respond with one JSON object with exactly these fields:
- relevance_score: number from 0.0 to 1.0, how directly the document addresses the question
- methodology_score: number from 0.0 to 1.0, the strength of the study design and execution
- sample_size_adequate: true or false
- study_type: one of "meta-analysis", "systematic review", "randomized controlled trial", "cohort study", "case-control study", "cross-sectional study", "case series", "case study", "expert opinion", "other"
- recommendation: "keep" if the document is useful evidence, "discard" if it is irrelevant or unreliable, "needs_more" if it is borderline

Do not include any text outside the JSON object.
`))

// Critic grades documents and applies the rubric.
type Critic struct {
	gen         llm.Generator
	rubric      Rubric
	memory      AcceptanceMemory
	concurrency int
	logger      *zap.Logger
}

// New creates a Critic. memory may be nil, in which case no bias is applied
// and nothing is recorded. concurrency below 1 grades sequentially.
func New(gen llm.Generator, rubric Rubric, memory AcceptanceMemory, concurrency int, logger *zap.Logger) *Critic {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Critic{gen: gen, rubric: rubric, memory: memory, concurrency: concurrency, logger: logger}
}

// Result is the outcome of grading one batch.
type Result struct {
	Grades  []types.Grade `json:"grades" yaml:"grades"`
	Verdict types.Verdict `json:"verdict" yaml:"verdict"`

	// Unavailable counts documents whose grading call failed in transport.
	// They are absent from Grades.
	Unavailable int `json:"unavailable" yaml:"unavailable"`
}

// Grade grades docs for question at the given zero-based iteration and
// returns the batch verdict. Grades follow the order of docs. A grading
// response that violates the output contract aborts the batch with a
// *ContractError, as does an acceptance memory built with a different
// embedding dimension; transport failures only drop the affected document.
func (c *Critic) Grade(ctx context.Context, question string, docs []types.Document, iteration int) (Result, error) {
	if len(docs) == 0 {
		return Result{Verdict: c.rubric.Decide(nil, iteration, 0)}, nil
	}

	bias, err := c.bias(ctx, question)
	if err != nil {
		return Result{}, err
	}

	slots := make([]*types.Grade, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			grade, err := c.GradeDocument(gctx, question, doc)
			if err != nil {
				if errors.Is(err, ErrContractViolation) || gctx.Err() != nil {
					return err
				}
				c.logger.Warn("grading unavailable, dropping document",
					zap.String("document_id", doc.ID), zap.Error(err))
				return nil
			}
			slots[i] = &grade
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{}
	for _, s := range slots {
		if s == nil {
			res.Unavailable++
			continue
		}
		res.Grades = append(res.Grades, *s)
	}
	res.Verdict = c.rubric.Decide(res.Grades, iteration, bias)

	c.logger.Info("critic verdict",
		zap.String("decision", string(res.Verdict.Decision)),
		zap.String("reason", res.Verdict.Reason),
		zap.Int("iteration", iteration),
		zap.Int("graded", len(res.Grades)),
		zap.Int("unavailable", res.Unavailable),
		zap.Float64("memory_bias", bias))

	if res.Verdict.Decision == types.DecisionSufficient {
		c.remember(ctx, question, res.Grades, iteration)
	}
	return res, nil
}

// GradeDocument grades one document. The returned grade always carries
// doc.ID.
func (c *Critic) GradeDocument(ctx context.Context, question string, doc types.Document) (types.Grade, error) {
	var buf bytes.Buffer
	if err := gradingPromptTmpl.Execute(&buf, struct {
		Question string
		Doc      types.Document
	}{question, doc}); err != nil {
		return types.Grade{}, fmt.Errorf("rendering grading prompt: %w", err)
	}

	raw, err := c.gen.Generate(ctx, gradingSystem, buf.String())
	if err != nil {
		return types.Grade{}, fmt.Errorf("grading document %s: %w", doc.ID, err)
	}
	return ParseGrade(raw, doc.ID, c.rubric)
}

// bias returns the acceptance-memory bias for question. Lookup failures
// mean no bias, except a vector dimension mismatch, which is returned.
func (c *Critic) bias(ctx context.Context, question string) (float64, error) {
	if c.memory == nil {
		return 0, nil
	}
	b, err := c.memory.BiasFor(ctx, question)
	if err != nil {
		if errors.Is(err, embedding.ErrDimensionMismatch) {
			c.logger.Error("acceptance memory holds vectors of another dimension", zap.Error(err))
			return 0, fmt.Errorf("acceptance memory lookup: %w", err)
		}
		c.logger.Warn("acceptance memory lookup failed", zap.Error(err))
		return 0, nil
	}
	return b, nil
}

func (c *Critic) remember(ctx context.Context, question string, grades []types.Grade, iteration int) {
	if c.memory == nil {
		return
	}
	var accepted []types.Acceptance
	for _, g := range grades {
		if g.Recommendation != types.RecommendKeep {
			continue
		}
		accepted = append(accepted, types.Acceptance{
			DocumentID:   g.DocumentID,
			StudyType:    g.StudyType,
			QualityScore: g.Quality(),
			Iteration:    iteration,
		})
	}
	if len(accepted) == 0 {
		return
	}
	if err := c.memory.Record(ctx, question, accepted); err != nil {
		c.logger.Warn("recording acceptances failed", zap.Error(err))
	}
}

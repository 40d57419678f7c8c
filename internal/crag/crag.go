// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package crag runs the corrective retrieval loop: scout for evidence,
// grade it, scout again while the critic asks for more and the budget
// allows, then synthesize a review over everything graded.
package crag

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/critic"
	"github.com/pdiddy/evidence-engine/internal/scout"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ErrRunAborted wraps the cause of a run that stopped without a review.
var ErrRunAborted = errors.New("crag: run aborted")

// AbortedMessage is shown to users in place of a review when a run aborts.
const AbortedMessage = "Unable to complete the literature review: insufficient evidence or processing error."

const defaultMaxIterations = 3

// Scouter expands a question and retrieves candidate documents.
type Scouter interface {
	Run(ctx context.Context, question, augmentation string) (scout.Result, error)
}

// Grader grades one batch of documents.
type Grader interface {
	Grade(ctx context.Context, question string, docs []types.Document, iteration int) (critic.Result, error)
}

// Synthesizer writes the final review.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, docs []types.ScoredDocument) (string, error)
}

// State is a phase of a run.
type State string

const (
	StateScouting     State = "scouting"
	StateCritiquing   State = "critiquing"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
)

// Options tune a single run.
type Options struct {
	// MaxIterations caps the number of scout passes. Zero uses the
	// controller default.
	MaxIterations int

	// Augmentation is appended to the question for query expansion.
	Augmentation string
}

// Pass records one scout-and-grade iteration.
type Pass struct {
	Iteration   int           `json:"iteration" yaml:"iteration"`
	Queries     []string      `json:"queries" yaml:"queries"`
	Retrieved   int           `json:"retrieved" yaml:"retrieved"`
	Skipped     int           `json:"skipped" yaml:"skipped"`
	Unavailable int           `json:"unavailable" yaml:"unavailable"`
	Verdict     types.Verdict `json:"verdict" yaml:"verdict"`
}

// Result is the outcome of a completed run.
type Result struct {
	Question string         `json:"question" yaml:"question"`
	Decision types.Decision `json:"decision" yaml:"decision"`

	// BudgetExhausted is set when the run synthesized because it ran out
	// of passes rather than on a sufficient verdict.
	BudgetExhausted bool `json:"budget_exhausted" yaml:"budget_exhausted"`

	Passes    []Pass                 `json:"passes" yaml:"passes"`
	Grades    []types.Grade          `json:"grades" yaml:"grades"`
	Documents []types.ScoredDocument `json:"documents" yaml:"documents"`
	Synthesis string                 `json:"synthesis" yaml:"synthesis"`
}

// Controller drives runs.
type Controller struct {
	scout         Scouter
	grader        Grader
	synth         Synthesizer
	maxIterations int
	logger        *zap.Logger
}

// New creates a Controller. maxIterations below 1 uses the default of 3.
func New(s Scouter, g Grader, syn Synthesizer, maxIterations int, logger *zap.Logger) *Controller {
	if maxIterations < 1 {
		maxIterations = defaultMaxIterations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{scout: s, grader: g, synth: syn, maxIterations: maxIterations, logger: logger}
}

// Run answers question. Exhausting the pass budget is not an error: the
// run synthesizes over whatever was graded. A grading contract violation
// or a synthesis failure aborts the run with an error wrapping
// ErrRunAborted.
func (c *Controller) Run(ctx context.Context, question string, opts Options) (*Result, error) {
	budget := opts.MaxIterations
	if budget < 1 {
		budget = c.maxIterations
	}

	res := &Result{Question: question}
	graded := newAccumulator()
	state := StateScouting
	var batch scout.Result

	for state != StateDone {
		switch state {
		case StateScouting:
			var err error
			batch, err = c.scout.Run(ctx, question, opts.Augmentation)
			if err != nil {
				return nil, c.abort(question, state, err)
			}
			c.transition(&state, StateCritiquing, len(res.Passes))

		case StateCritiquing:
			iteration := len(res.Passes)
			cr, err := c.grader.Grade(ctx, question, batch.Documents, iteration)
			if err != nil {
				return nil, c.abort(question, state, err)
			}
			graded.add(batch.Documents, cr.Grades)
			res.Passes = append(res.Passes, Pass{
				Iteration:   iteration,
				Queries:     batch.Queries,
				Retrieved:   len(batch.Documents),
				Skipped:     batch.Skipped,
				Unavailable: cr.Unavailable,
				Verdict:     cr.Verdict,
			})
			res.Decision = cr.Verdict.Decision

			switch {
			case cr.Verdict.Decision == types.DecisionSufficient:
				c.transition(&state, StateSynthesizing, iteration)
			case len(res.Passes) < budget:
				c.transition(&state, StateScouting, iteration)
			default:
				res.BudgetExhausted = true
				c.logger.Info("crag budget exhausted, synthesizing available evidence",
					zap.Int("passes", len(res.Passes)), zap.Int("graded", graded.len()))
				c.transition(&state, StateSynthesizing, iteration)
			}

		case StateSynthesizing:
			res.Grades, res.Documents = graded.result()
			review, err := c.synth.Synthesize(ctx, question, res.Documents)
			if err != nil {
				return nil, c.abort(question, state, err)
			}
			res.Synthesis = review
			c.transition(&state, StateDone, len(res.Passes)-1)
		}
	}

	c.logger.Info("crag run complete",
		zap.String("decision", string(res.Decision)),
		zap.Int("passes", len(res.Passes)),
		zap.Bool("budget_exhausted", res.BudgetExhausted),
		zap.Int("documents", len(res.Documents)))
	return res, nil
}

func (c *Controller) transition(state *State, next State, iteration int) {
	c.logger.Debug("crag transition",
		zap.String("from", string(*state)), zap.String("to", string(next)), zap.Int("iteration", iteration))
	*state = next
}

func (c *Controller) abort(question string, state State, err error) error {
	c.logger.Error("crag run aborted", zap.String("state", string(state)), zap.String("question", question), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrRunAborted, state, err)
}

// accumulator keeps the latest grade of every document seen in a run.
type accumulator struct {
	order  []string
	docs   map[string]types.Document
	grades map[string]types.Grade
}

func newAccumulator() *accumulator {
	return &accumulator{docs: map[string]types.Document{}, grades: map[string]types.Grade{}}
}

func (a *accumulator) add(docs []types.Document, grades []types.Grade) {
	byID := make(map[string]types.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for _, g := range grades {
		d, ok := byID[g.DocumentID]
		if !ok {
			continue
		}
		if _, seen := a.grades[g.DocumentID]; !seen {
			a.order = append(a.order, g.DocumentID)
		}
		a.docs[g.DocumentID] = d
		a.grades[g.DocumentID] = g
	}
}

func (a *accumulator) len() int { return len(a.order) }

// result returns grades in first-seen order and documents ordered by
// quality, highest first.
func (a *accumulator) result() ([]types.Grade, []types.ScoredDocument) {
	grades := make([]types.Grade, 0, len(a.order))
	docs := make([]types.ScoredDocument, 0, len(a.order))
	for _, id := range a.order {
		g := a.grades[id]
		grades = append(grades, g)
		docs = append(docs, types.Scored(a.docs[id], g))
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].QualityScore > docs[j].QualityScore })
	return grades, docs
}

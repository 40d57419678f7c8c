// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package contextqa answers follow-up questions from the documents cached
// in a session, without retrieving anything new.
package contextqa

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const (
	// NoContext is the answer when the session holds no documents.
	NoContext = "I don't have any papers from a previous search to reference. Please ask a new research question to start a fresh literature search."

	// Unavailable is the answer when the backend fails.
	Unavailable = "I encountered an error answering your follow-up question. Please try rephrasing or start a new search."

	defaultMaxDocuments  = 10
	defaultAbstractChars = 600
)

const qaSystem = `You are a medical research assistant answering follow-up questions about previously retrieved literature.

Answer using ONLY the information in the papers provided.
- Cite paper numbers or PMIDs, for example "Paper 2 found..." or "According to PMID 12345678...".
- If the papers do not contain enough information, say so clearly.
- Do not add information that is not in the papers.
- Keep answers concise but thorough and note limitations or conflicts between papers.
- For comparisons, reference the specific papers being compared.`

// Answerer answers questions over cached session documents.
type Answerer struct {
	gen           llm.Generator
	maxDocs       int
	abstractChars int
	logger        *zap.Logger
}

// New creates an Answerer from the session settings.
func New(gen llm.Generator, cfg types.SessionConfig, logger *zap.Logger) *Answerer {
	a := &Answerer{gen: gen, maxDocs: cfg.QADocuments, abstractChars: cfg.QAAbstractChars, logger: logger}
	if a.maxDocs <= 0 {
		a.maxDocs = defaultMaxDocuments
	}
	if a.abstractChars <= 0 {
		a.abstractChars = defaultAbstractChars
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	return a
}

// Answer answers query from the documents in sess. It never fails: a
// session without documents and a backend error both produce a fixed
// explanatory answer.
func (a *Answerer) Answer(ctx context.Context, query string, sess *types.SessionContext) string {
	if sess == nil || len(sess.Documents) == 0 {
		return NoContext
	}

	summary := sess.SynthesisSummary
	if summary == "" {
		summary = "No summary available."
	}
	user := fmt.Sprintf(`## Original Research Question
%s

## Retrieved Papers
%s

## Previous Synthesis Summary
%s

---

## Follow-up Question
%s

Answer the follow-up question using ONLY the information from the papers above.`,
		sess.OriginalQuery, a.papers(sess.Documents), summary, query)

	answer, err := a.gen.Generate(ctx, qaSystem, user)
	if err != nil {
		a.logger.Error("context answer failed", zap.String("session_id", sess.ID), zap.Error(err))
		return Unavailable
	}
	a.logger.Info("context answer",
		zap.String("session_id", sess.ID),
		zap.Int("papers", min(len(sess.Documents), a.maxDocs)),
		zap.Int("answer_chars", len(answer)))
	return strings.TrimSpace(answer)
}

func (a *Answerer) papers(docs []types.ScoredDocument) string {
	blocks := make([]string, 0, min(len(docs), a.maxDocs))
	for i, d := range docs {
		if i == a.maxDocs {
			break
		}
		quality := "N/A"
		if d.Graded {
			quality = fmt.Sprintf("%.2f", d.QualityScore)
		}
		abstract := []rune(d.Abstract)
		if len(abstract) > a.abstractChars {
			abstract = append(abstract[:a.abstractChars], []rune("...")...)
		}
		blocks = append(blocks, fmt.Sprintf("[Paper %d]\nPMID: %s\nTitle: %s\nQuality Score: %s\nAbstract: %s",
			i+1, d.ID, d.Title, quality, string(abstract)))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

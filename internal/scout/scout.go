// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scout expands a research question into search queries and
// retrieves candidate documents for them.
package scout

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Retriever searches a literature index and fetches records by identifier.
type Retriever interface {
	Search(ctx context.Context, query string, maxResults int) ([]string, error)
	Fetch(ctx context.Context, ids []string) ([]types.RawRecord, error)
}

const (
	defaultMaxQueries     = 5
	defaultMaxResults     = 10
	defaultFetchChunkSize = 5
)

const expansionSystem = "You are a biomedical information specialist who writes precise PubMed search queries."

var expansionPromptTmpl = template.Must(template.New("expansion").Parse(`Rewrite the research question below into 3 to 5 distinct PubMed search queries.
Use MeSH-style terminology and synonyms, and vary the focus (population, intervention, outcome, study design).

Respond with a JSON array of strings and nothing else.

Example response:
["metformin all-cause mortality type 2 diabetes", "biguanide survival randomized controlled trial"]

Research question:
{{.Question}}
`))

var yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)

// Scout runs query expansion and retrieval.
type Scout struct {
	gen       llm.Generator
	retriever Retriever
	cfg       types.RetrievalConfig
	logger    *zap.Logger
}

// New creates a Scout. Zero-valued limits in cfg take defaults.
func New(gen llm.Generator, retriever Retriever, cfg types.RetrievalConfig, logger *zap.Logger) *Scout {
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = defaultMaxQueries
	}
	if cfg.MaxResultsPerQuery <= 0 {
		cfg.MaxResultsPerQuery = defaultMaxResults
	}
	if cfg.FetchChunkSize <= 0 {
		cfg.FetchChunkSize = defaultFetchChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scout{gen: gen, retriever: retriever, cfg: cfg, logger: logger}
}

// Result is the outcome of one Scout pass.
type Result struct {
	Queries   []string         `json:"queries" yaml:"queries"`
	Documents []types.Document `json:"documents" yaml:"documents"`

	// Skipped counts fetched records dropped for missing fields.
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Run expands question (joined with augmentation when non-empty) into
// search queries and retrieves documents for them. Search and fetch
// failures are logged and skipped; Run only fails when ctx is done.
func (s *Scout) Run(ctx context.Context, question, augmentation string) (Result, error) {
	q := strings.TrimSpace(question)
	if aug := strings.TrimSpace(augmentation); aug != "" {
		q = q + " " + aug
	}

	queries := s.expand(ctx, q)
	res := Result{Queries: queries}

	seen := make(map[string]bool)
	var ids []string
	for _, query := range queries {
		found, err := s.retriever.Search(ctx, query, s.cfg.MaxResultsPerQuery)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.logger.Warn("search failed", zap.String("query", query), zap.Error(err))
			continue
		}
		for _, id := range found {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}

	for start := 0; start < len(ids); start += s.cfg.FetchChunkSize {
		end := min(start+s.cfg.FetchChunkSize, len(ids))
		records, err := s.retriever.Fetch(ctx, ids[start:end])
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.logger.Warn("fetch chunk failed",
				zap.Strings("ids", ids[start:end]),
				zap.Error(err))
			continue
		}
		for _, rec := range records {
			doc, ok := toDocument(rec)
			if !ok {
				res.Skipped++
				continue
			}
			res.Documents = append(res.Documents, doc)
		}
	}

	s.logger.Info("scout pass complete",
		zap.Int("queries", len(queries)),
		zap.Int("ids", len(ids)),
		zap.Int("documents", len(res.Documents)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

func (s *Scout) expand(ctx context.Context, question string) []string {
	var buf bytes.Buffer
	if err := expansionPromptTmpl.Execute(&buf, struct{ Question string }{question}); err != nil {
		return []string{question}
	}
	raw, err := s.gen.Generate(ctx, expansionSystem, buf.String())
	if err != nil {
		s.logger.Warn("query expansion failed, using question", zap.Error(err))
		return []string{question}
	}
	return ParseQueries(raw, question, s.cfg.MaxQueries)
}

// toDocument validates a raw record. Records without an identifier,
// title, or abstract are rejected.
func toDocument(rec types.RawRecord) (types.Document, bool) {
	doc := types.Document{
		ID:       strings.TrimSpace(rec.ID),
		Title:    strings.TrimSpace(rec.Title),
		Abstract: strings.TrimSpace(rec.Abstract),
		Venue:    strings.TrimSpace(rec.Venue),
	}
	if doc.ID == "" || doc.Title == "" || doc.Abstract == "" {
		return types.Document{}, false
	}
	if m := yearPattern.FindString(rec.Year); m != "" {
		doc.Year, _ = strconv.Atoi(m)
	}
	return doc, true
}

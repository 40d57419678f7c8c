// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/cache"
	"github.com/pdiddy/evidence-engine/internal/contextqa"
	"github.com/pdiddy/evidence-engine/internal/crag"
	"github.com/pdiddy/evidence-engine/internal/critic"
	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/internal/memory"
	"github.com/pdiddy/evidence-engine/internal/pubmed"
	"github.com/pdiddy/evidence-engine/internal/router"
	"github.com/pdiddy/evidence-engine/internal/scout"
	"github.com/pdiddy/evidence-engine/internal/session"
	"github.com/pdiddy/evidence-engine/internal/store"
	"github.com/pdiddy/evidence-engine/internal/synth"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Open builds an Engine from cfg, opening the cache and durable stores.
// Close the Engine to release them.
func Open(ctx context.Context, cfg types.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	gen, err := llm.New(ctx, cfg.Generation, logger.Named("llm"))
	if err != nil {
		return nil, err
	}
	emb, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	durable, err := store.Open(ctx, cfg.Durable, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	kv, err := cache.OpenBadger(cfg.Cache.Dir)
	if err != nil {
		durable.Close()
		return nil, fmt.Errorf("opening session cache: %w", err)
	}

	sc := scout.New(gen, pubmed.NewClientFromConfig(cfg.Retrieval), cfg.Retrieval, logger.Named("scout"))
	mem := memory.New(durable, emb, cfg.Rubric, logger.Named("memory"))
	cr := critic.New(gen, critic.NewRubric(cfg.Rubric), mem, cfg.CRAG.GradeConcurrency, logger.Named("critic"))
	syn := synth.New(gen, logger.Named("synth"))

	e := New(Deps{
		Sessions:    session.NewService(kv, durable, cfg.Session, logger.Named("session")),
		Router:      router.New(gen, emb, cfg.Router, logger.Named("router")),
		Researcher:  crag.New(sc, cr, syn, cfg.CRAG.MaxIterations, logger.Named("crag")),
		Scout:       sc,
		Synthesizer: syn,
		Answerer:    contextqa.New(gen, cfg.Session, logger.Named("contextqa")),
		Embedder:    emb,
	}, cfg.CRAG.MaxIterations, logger)
	e.closers = append(e.closers, durable.Close, kv.Close)

	logger.Info("engine ready",
		zap.String("generation", cfg.Generation.Provider),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("durable", cfg.Durable.Driver),
		zap.Bool("cache_in_memory", cfg.Cache.Dir == ""))
	return e, nil
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Decision is the critic's global verdict on a batch of graded documents.
type Decision string

const (
	DecisionSufficient   Decision = "sufficient"
	DecisionRetrieveMore Decision = "retrieve_more"
)

// DecisionMetrics are the aggregate values a Decision was computed from.
type DecisionMetrics struct {
	Graded             int     `json:"graded" yaml:"graded"`
	KeepRatio          float64 `json:"keep_ratio" yaml:"keep_ratio"`
	DiscardRatio       float64 `json:"discard_ratio" yaml:"discard_ratio"`
	AvgQuality         float64 `json:"avg_quality" yaml:"avg_quality"`
	Iteration          int     `json:"iteration" yaml:"iteration"`
	MemoryBias         float64 `json:"memory_bias" yaml:"memory_bias"`
	EffectiveThreshold float64 `json:"effective_threshold" yaml:"effective_threshold"`
}

// Verdict is a Decision together with the metrics and the rule that
// produced it.
type Verdict struct {
	Decision Decision        `json:"decision" yaml:"decision"`
	Reason   string          `json:"reason" yaml:"reason"`
	Metrics  DecisionMetrics `json:"metrics" yaml:"metrics"`
}

// Acceptance is one document the critic accepted on a sufficient decision.
type Acceptance struct {
	DocumentID   string  `json:"document_id" yaml:"document_id"`
	StudyType    string  `json:"study_type,omitempty" yaml:"study_type,omitempty"`
	QualityScore float64 `json:"quality_score" yaml:"quality_score"`
	Iteration    int     `json:"iteration" yaml:"iteration"`
}

// AcceptanceEntry is a durable acceptance-memory row.
type AcceptanceEntry struct {
	ID              string    `json:"id" yaml:"id"`
	QueryHash       string    `json:"query_hash" yaml:"query_hash"`
	NormalizedQuery string    `json:"normalized_query" yaml:"normalized_query"`
	QueryEmbedding  []float32 `json:"query_embedding,omitempty" yaml:"query_embedding,omitempty"`
	DocumentID      string    `json:"document_id" yaml:"document_id"`
	StudyType       string    `json:"study_type,omitempty" yaml:"study_type,omitempty"`
	QualityScore    float64   `json:"quality_score" yaml:"quality_score"`
	Iteration       int       `json:"iteration" yaml:"iteration"`
	AcceptedAt      time.Time `json:"accepted_at" yaml:"accepted_at"`
}

// AcceptanceMatch is an acceptance-memory row matched against a new query.
// Similarity is 1.0 for exact normalized-query matches.
type AcceptanceMatch struct {
	QualityScore float64   `json:"quality_score" yaml:"quality_score"`
	AcceptedAt   time.Time `json:"accepted_at" yaml:"accepted_at"`
	Similarity   float64   `json:"similarity" yaml:"similarity"`
}

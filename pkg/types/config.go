// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Config is the complete engine configuration. Zero values in any group
// are replaced with defaults by the component that consumes them.
type Config struct {
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Embedding  EmbeddingConfig  `json:"embedding" yaml:"embedding"`
	Retrieval  RetrievalConfig  `json:"retrieval" yaml:"retrieval"`
	Rubric     RubricConfig     `json:"rubric" yaml:"rubric"`
	CRAG       CRAGConfig       `json:"crag" yaml:"crag"`
	Router     RouterConfig     `json:"router" yaml:"router"`
	Session    SessionConfig    `json:"session" yaml:"session"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Durable    DurableConfig    `json:"durable" yaml:"durable"`
}

// GenerationConfig selects and tunes the text-generation backend.
type GenerationConfig struct {
	// Provider is "anthropic" or "genai".
	Provider string `json:"provider" yaml:"provider"`

	// Model is the model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for transport failures (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// MaxTokens caps the length of a single completion (default 2048).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Timeout bounds a single generation call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	// Provider is "genai" or "hash".
	Provider string `json:"provider" yaml:"provider"`

	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Dimensions is the vector size produced by the embedder. The genai
	// provider passes it as the requested output dimensionality.
	Dimensions int `json:"dimensions" yaml:"dimensions"`
}

// RetrievalConfig holds settings for the PubMed E-utilities client.
type RetrievalConfig struct {
	// BaseURL is the E-utilities root (default NCBI eutils).
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey raises the NCBI rate limit from 3 to 10 requests per second.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Email and Tool identify the caller to NCBI.
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
	Tool  string `json:"tool" yaml:"tool"`

	// MaxResultsPerQuery caps identifiers returned per search (default 10).
	MaxResultsPerQuery int `json:"max_results_per_query" yaml:"max_results_per_query"`

	// FetchChunkSize is the number of identifiers per fetch request (default 5).
	FetchChunkSize int `json:"fetch_chunk_size" yaml:"fetch_chunk_size"`

	// MaxQueries caps the number of expanded search queries (default 5).
	MaxQueries int `json:"max_queries" yaml:"max_queries"`

	// RequestsPerSecond overrides the NCBI-derived rate limit when positive.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	UserAgent string        `json:"user_agent" yaml:"user_agent"`
}

// RubricConfig holds the critic's thresholds and study-type priors.
type RubricConfig struct {
	// BaseQualityThreshold is the average quality required before decay (default 0.70).
	BaseQualityThreshold float64 `json:"base_quality_threshold" yaml:"base_quality_threshold"`

	// MaxDiscardRatio is the discard ratio tolerated by the quality rule (default 0.40).
	MaxDiscardRatio float64 `json:"max_discard_ratio" yaml:"max_discard_ratio"`

	// KeepRatioSufficient is the keep ratio that alone ends retrieval (default 0.40).
	KeepRatioSufficient float64 `json:"keep_ratio_sufficient" yaml:"keep_ratio_sufficient"`

	// DiscardRatioRetrieve is the discard ratio that alone forces retrieval (default 0.40).
	DiscardRatioRetrieve float64 `json:"discard_ratio_retrieve" yaml:"discard_ratio_retrieve"`

	// DecayRate lowers the threshold per iteration (default 0.05).
	DecayRate float64 `json:"decay_rate" yaml:"decay_rate"`

	// ConfidenceFloor is the lowest the threshold can fall (default 0.50).
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`

	// MaxMemoryBoost caps the acceptance-memory bias (default 0.15).
	MaxMemoryBoost float64 `json:"max_memory_boost" yaml:"max_memory_boost"`

	// MemorySimilarityFloor is the minimum query similarity for a memory match (default 0.75).
	MemorySimilarityFloor float64 `json:"memory_similarity_floor" yaml:"memory_similarity_floor"`

	// MemoryDecayPerDay is the exponential age decay of memory matches (default 0.01).
	MemoryDecayPerDay float64 `json:"memory_decay_per_day" yaml:"memory_decay_per_day"`

	// MemoryLookupLimit caps memory rows considered per lookup (default 10).
	MemoryLookupLimit int `json:"memory_lookup_limit" yaml:"memory_lookup_limit"`

	// StudyTypePriors maps canonical study types to methodology floors.
	StudyTypePriors map[string]float64 `json:"study_type_priors,omitempty" yaml:"study_type_priors,omitempty"`
}

// CRAGConfig bounds the retrieve-critique loop.
type CRAGConfig struct {
	// MaxIterations is the number of Scout passes allowed per run (default 3).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// GradeConcurrency is the number of documents graded in parallel (default 1).
	GradeConcurrency int `json:"grade_concurrency" yaml:"grade_concurrency"`
}

// RouterConfig tunes follow-up routing.
type RouterConfig struct {
	// ContextQAOverlap is the keyword overlap that answers from cache (default 0.5).
	ContextQAOverlap float64 `json:"context_qa_overlap" yaml:"context_qa_overlap"`

	// AugmentOverlap is the lower bound of the augmented band (default 0.2).
	AugmentOverlap float64 `json:"augment_overlap" yaml:"augment_overlap"`

	// ReferenceOverlap is the overlap that, with a general reference, answers from cache (default 0.3).
	ReferenceOverlap float64 `json:"reference_overlap" yaml:"reference_overlap"`

	// DisableLLMFallback routes ambiguous queries to full_graph without a model call.
	DisableLLMFallback bool `json:"disable_llm_fallback" yaml:"disable_llm_fallback"`
}

// SessionConfig holds session cache policy.
type SessionConfig struct {
	// TTL is the sliding expiry of cached sessions (default 60m).
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// MaxDocuments caps cached documents per session (default 15).
	MaxDocuments int `json:"max_documents" yaml:"max_documents"`

	// SummaryChars caps the cached synthesis summary (default 1500).
	SummaryChars int `json:"summary_chars" yaml:"summary_chars"`

	// QADocuments and QAAbstractChars bound the context-QA prompt (defaults 10, 600).
	QADocuments     int `json:"qa_documents" yaml:"qa_documents"`
	QAAbstractChars int `json:"qa_abstract_chars" yaml:"qa_abstract_chars"`
}

// CacheConfig configures the badger-backed session cache.
type CacheConfig struct {
	// Dir is the badger directory. Empty runs the cache in memory.
	Dir string `json:"dir" yaml:"dir"`
}

// DurableConfig configures the durable session and memory store.
type DurableConfig struct {
	// Driver is "sqlite3", "sqlite", or "postgres".
	Driver string `json:"driver" yaml:"driver"`

	// DSN is a file path for the SQLite drivers or a connection string for postgres.
	DSN string `json:"dsn" yaml:"dsn"`
}

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() Config {
	return Config{
		Generation: GenerationConfig{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-5-20250929",
			MaxRetries: 3,
			MaxTokens:  2048,
			Timeout:    120 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Model:      "gemini-embedding-001",
			Dimensions: 256,
		},
		Retrieval: RetrievalConfig{
			BaseURL:            "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			Tool:               "evidence-engine",
			MaxResultsPerQuery: 10,
			FetchChunkSize:     5,
			MaxQueries:         5,
			Timeout:            30 * time.Second,
			UserAgent:          "evidence-engine/0.1",
		},
		Rubric: DefaultRubric(),
		CRAG: CRAGConfig{
			MaxIterations:    3,
			GradeConcurrency: 1,
		},
		Router: RouterConfig{
			ContextQAOverlap: 0.5,
			AugmentOverlap:   0.2,
			ReferenceOverlap: 0.3,
		},
		Session: SessionConfig{
			TTL:             60 * time.Minute,
			MaxDocuments:    15,
			SummaryChars:    1500,
			QADocuments:     10,
			QAAbstractChars: 600,
		},
		Durable: DurableConfig{
			Driver: "sqlite3",
			DSN:    "evidence.db",
		},
	}
}

// DefaultRubric returns the default critic rubric.
func DefaultRubric() RubricConfig {
	return RubricConfig{
		BaseQualityThreshold:  0.70,
		MaxDiscardRatio:       0.40,
		KeepRatioSufficient:   0.40,
		DiscardRatioRetrieve:  0.40,
		DecayRate:             0.05,
		ConfidenceFloor:       0.50,
		MaxMemoryBoost:        0.15,
		MemorySimilarityFloor: 0.75,
		MemoryDecayPerDay:     0.01,
		MemoryLookupLimit:     10,
		StudyTypePriors:       DefaultStudyTypePriors(),
	}
}

// DefaultStudyTypePriors returns methodology floors by study type.
func DefaultStudyTypePriors() map[string]float64 {
	return map[string]float64{
		StudyMetaAnalysis:     0.85,
		StudySystematicReview: 0.80,
		StudyRCT:              0.70,
		StudyCohort:           0.55,
		StudyCaseControl:      0.50,
		StudyCrossSectional:   0.45,
		StudyCaseSeries:       0.30,
		StudyCaseReport:       0.25,
		StudyExpertOpinion:    0.20,
	}
}

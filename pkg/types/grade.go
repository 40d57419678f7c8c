// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Recommendation is the critic's per-document verdict.
type Recommendation string

const (
	RecommendKeep      Recommendation = "keep"
	RecommendDiscard   Recommendation = "discard"
	RecommendNeedsMore Recommendation = "needs_more"
)

// Valid reports whether r is one of the three known recommendations.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendKeep, RecommendDiscard, RecommendNeedsMore:
		return true
	}
	return false
}

// Canonical study-type labels. Free-text study types reported by the
// critic are normalized to one of these.
const (
	StudyMetaAnalysis     = "meta-analysis"
	StudySystematicReview = "systematic review"
	StudyRCT              = "randomized controlled trial"
	StudyCohort           = "cohort study"
	StudyCaseControl      = "case-control study"
	StudyCrossSectional   = "cross-sectional study"
	StudyCaseSeries       = "case series"
	StudyCaseReport       = "case study"
	StudyExpertOpinion    = "expert opinion"
	StudyOther            = "other"
)

// Grade is the critic's assessment of one document against one question.
// Scores are always within [0, 1].
type Grade struct {
	// DocumentID is the caller-supplied document identifier. It is never
	// taken from model output.
	DocumentID string `json:"document_id" yaml:"document_id"`

	RelevanceScore     float64        `json:"relevance_score" yaml:"relevance_score"`
	MethodologyScore   float64        `json:"methodology_score" yaml:"methodology_score"`
	SampleSizeAdequate bool           `json:"sample_size_adequate" yaml:"sample_size_adequate"`
	StudyType          string         `json:"study_type,omitempty" yaml:"study_type,omitempty"`
	Recommendation     Recommendation `json:"recommendation" yaml:"recommendation"`
}

// Quality is the mean of relevance and methodology.
func (g Grade) Quality() float64 {
	return (g.RelevanceScore + g.MethodologyScore) / 2
}

// ScoredDocument pairs a document with the scores it carries into a
// session cache or a synthesis prompt. Documents that were never graded
// have Graded set to false and a neutral QualityScore.
type ScoredDocument struct {
	Document `yaml:",inline"`

	Graded           bool           `json:"graded" yaml:"graded"`
	RelevanceScore   float64        `json:"relevance_score" yaml:"relevance_score"`
	MethodologyScore float64        `json:"methodology_score" yaml:"methodology_score"`
	QualityScore     float64        `json:"quality_score" yaml:"quality_score"`
	StudyType        string         `json:"study_type,omitempty" yaml:"study_type,omitempty"`
	Recommendation   Recommendation `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
}

// UngradedQuality is the quality assigned to documents that entered a
// session without being graded.
const UngradedQuality = 0.5

// Scored attaches a grade to a document.
func Scored(doc Document, g Grade) ScoredDocument {
	return ScoredDocument{
		Document:         doc,
		Graded:           true,
		RelevanceScore:   g.RelevanceScore,
		MethodologyScore: g.MethodologyScore,
		QualityScore:     g.Quality(),
		StudyType:        g.StudyType,
		Recommendation:   g.Recommendation,
	}
}

// Unscored wraps a document that has not been graded.
func Unscored(doc Document) ScoredDocument {
	return ScoredDocument{Document: doc, QualityScore: UngradedQuality}
}

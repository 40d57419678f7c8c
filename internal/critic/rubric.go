// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package critic

import (
	"fmt"
	"math"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Rubric holds resolved decision thresholds and study-type priors.
type Rubric struct {
	cfg types.RubricConfig
}

// NewRubric resolves zero-valued fields of cfg to defaults.
func NewRubric(cfg types.RubricConfig) Rubric {
	def := types.DefaultRubric()
	if cfg.BaseQualityThreshold <= 0 {
		cfg.BaseQualityThreshold = def.BaseQualityThreshold
	}
	if cfg.MaxDiscardRatio <= 0 {
		cfg.MaxDiscardRatio = def.MaxDiscardRatio
	}
	if cfg.KeepRatioSufficient <= 0 {
		cfg.KeepRatioSufficient = def.KeepRatioSufficient
	}
	if cfg.DiscardRatioRetrieve <= 0 {
		cfg.DiscardRatioRetrieve = def.DiscardRatioRetrieve
	}
	if cfg.DecayRate < 0 {
		cfg.DecayRate = 0
	} else if cfg.DecayRate == 0 {
		cfg.DecayRate = def.DecayRate
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	if cfg.MaxMemoryBoost <= 0 {
		cfg.MaxMemoryBoost = def.MaxMemoryBoost
	}
	if len(cfg.StudyTypePriors) == 0 {
		cfg.StudyTypePriors = def.StudyTypePriors
	}
	return Rubric{cfg: cfg}
}

// Config returns the resolved configuration.
func (r Rubric) Config() types.RubricConfig { return r.cfg }

// Prior returns the methodology floor for a canonical study type.
func (r Rubric) Prior(studyType string) (float64, bool) {
	p, ok := r.cfg.StudyTypePriors[studyType]
	return p, ok
}

// EffectiveThreshold is the average quality required at iteration,
// lowered by decay and memory bias but never below the floor.
func (r Rubric) EffectiveThreshold(iteration int, memoryBias float64) float64 {
	bias := clamp(memoryBias, 0, r.cfg.MaxMemoryBoost)
	t := r.cfg.BaseQualityThreshold - float64(max(iteration, 0))*r.cfg.DecayRate - bias
	return math.Max(r.cfg.ConfidenceFloor, t)
}

// Decide computes the global verdict for a batch of grades. Rules are
// evaluated in order and the first match wins.
func (r Rubric) Decide(grades []types.Grade, iteration int, memoryBias float64) types.Verdict {
	m := types.DecisionMetrics{
		Graded:             len(grades),
		Iteration:          iteration,
		MemoryBias:         clamp(memoryBias, 0, r.cfg.MaxMemoryBoost),
		EffectiveThreshold: r.EffectiveThreshold(iteration, memoryBias),
	}
	if len(grades) == 0 {
		return types.Verdict{Decision: types.DecisionRetrieveMore, Reason: "no documents graded", Metrics: m}
	}

	var keep, discard int
	var quality float64
	for _, g := range grades {
		switch g.Recommendation {
		case types.RecommendKeep:
			keep++
		case types.RecommendDiscard:
			discard++
		}
		quality += g.Quality()
	}
	n := float64(len(grades))
	m.KeepRatio = float64(keep) / n
	m.DiscardRatio = float64(discard) / n
	m.AvgQuality = quality / n

	verdict := func(d types.Decision, reason string) types.Verdict {
		return types.Verdict{Decision: d, Reason: reason, Metrics: m}
	}

	switch {
	case m.KeepRatio >= r.cfg.KeepRatioSufficient:
		return verdict(types.DecisionSufficient,
			fmt.Sprintf("keep ratio %.2f reaches %.2f", m.KeepRatio, r.cfg.KeepRatioSufficient))
	case m.DiscardRatio >= r.cfg.DiscardRatioRetrieve:
		return verdict(types.DecisionRetrieveMore,
			fmt.Sprintf("discard ratio %.2f reaches %.2f", m.DiscardRatio, r.cfg.DiscardRatioRetrieve))
	case m.AvgQuality >= m.EffectiveThreshold && m.DiscardRatio <= r.cfg.MaxDiscardRatio:
		return verdict(types.DecisionSufficient,
			fmt.Sprintf("average quality %.2f meets threshold %.2f", m.AvgQuality, m.EffectiveThreshold))
	default:
		return verdict(types.DecisionRetrieveMore,
			fmt.Sprintf("average quality %.2f below threshold %.2f", m.AvgQuality, m.EffectiveThreshold))
	}
}

// studyTypeAliases maps normalized free text to canonical labels. Checked
// in order; the first contained alias wins.
var studyTypeAliases = []struct {
	alias     string
	canonical string
}{
	{"meta analysis", types.StudyMetaAnalysis},
	{"metaanalysis", types.StudyMetaAnalysis},
	{"systematic review", types.StudySystematicReview},
	{"randomized controlled", types.StudyRCT},
	{"randomized clinical", types.StudyRCT},
	{"randomized trial", types.StudyRCT},
	{"rct", types.StudyRCT},
	{"case control", types.StudyCaseControl},
	{"cohort", types.StudyCohort},
	{"longitudinal", types.StudyCohort},
	{"cross sectional", types.StudyCrossSectional},
	{"case series", types.StudyCaseSeries},
	{"case report", types.StudyCaseReport},
	{"case study", types.StudyCaseReport},
	{"expert opinion", types.StudyExpertOpinion},
	{"editorial", types.StudyExpertOpinion},
	{"commentary", types.StudyExpertOpinion},
}

// NormalizeStudyType maps free-text study designs onto the canonical
// vocabulary. Empty input yields ""; unrecognized input yields "other".
func NormalizeStudyType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("-", " ", "_", " ", "randomised", "randomized").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	padded := " " + s + " "
	for _, a := range studyTypeAliases {
		if a.alias == "rct" {
			if strings.Contains(padded, " rct ") || strings.Contains(padded, " rcts ") {
				return a.canonical
			}
			continue
		}
		if strings.Contains(s, a.alias) {
			return a.canonical
		}
	}
	return types.StudyOther
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

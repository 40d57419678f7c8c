// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package critic

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// ErrContractViolation is wrapped by every ContractError.
var ErrContractViolation = errors.New("critic: grading output violates contract")

// ContractError reports grading output that is not a single JSON object
// of the expected shape. It aborts the run.
type ContractError struct {
	DocumentID string
	Reason     string
	Raw        string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("critic: grading output for document %s violates contract: %s", e.DocumentID, e.Reason)
}

// Unwrap lets errors.Is match ErrContractViolation.
func (e *ContractError) Unwrap() error { return ErrContractViolation }

// gradePayload keeps every field raw so numeric fields can be coerced
// leniently while the overall shape is checked strictly.
type gradePayload struct {
	RelevanceScore     json.RawMessage `json:"relevance_score"`
	MethodologyScore   json.RawMessage `json:"methodology_score"`
	SampleSizeAdequate json.RawMessage `json:"sample_size_adequate"`
	StudyType          json.RawMessage `json:"study_type"`
	Recommendation     json.RawMessage `json:"recommendation"`
}

// ParseGrade converts one grading response into a Grade for documentID.
// The response must be exactly one JSON object after trimming whitespace.
// Scores are clamped to [0, 1], a missing or null sample-size flag is
// false, and the study-type prior is applied as a methodology floor. Any
// identifier present in the response is ignored.
func ParseGrade(raw, documentID string, rubric Rubric) (types.Grade, error) {
	text := strings.TrimSpace(raw)
	violation := func(reason string) (types.Grade, error) {
		return types.Grade{}, &ContractError{DocumentID: documentID, Reason: reason, Raw: raw}
	}

	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return violation("response is not a bare JSON object")
	}
	var p gradePayload
	if err := json.Unmarshal([]byte(text), &p); err != nil {
		return violation("invalid JSON: " + err.Error())
	}

	rec, ok := parseRecommendation(p.Recommendation)
	if !ok {
		return violation(fmt.Sprintf("recommendation %s is not keep, discard, or needs_more", string(p.Recommendation)))
	}

	g := types.Grade{
		DocumentID:         documentID,
		RelevanceScore:     parseScore(p.RelevanceScore),
		MethodologyScore:   parseScore(p.MethodologyScore),
		SampleSizeAdequate: parseBool(p.SampleSizeAdequate),
		StudyType:          NormalizeStudyType(parseString(p.StudyType)),
		Recommendation:     rec,
	}
	if prior, ok := rubric.Prior(g.StudyType); ok && g.MethodologyScore < prior {
		g.MethodologyScore = prior
	}
	return g, nil
}

// parseScore coerces a JSON number or numeric string into [0, 1].
// Anything else, including NaN and infinities, yields 0.
func parseScore(raw json.RawMessage) float64 {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 0
	}
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return clamp(f, 0, 1)
}

func parseBool(raw json.RawMessage) bool {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return false
	}
	switch x := v.(type) {
	case bool:
		return x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes":
			return true
		}
	}
	return false
}

func parseString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func parseRecommendation(raw json.RawMessage) (types.Recommendation, bool) {
	s := strings.ToLower(strings.TrimSpace(parseString(raw)))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	r := types.Recommendation(s)
	return r, r.Valid()
}

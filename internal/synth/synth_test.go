// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

type recordingGenerator struct {
	out    string
	err    error
	system string
	user   string
	calls  int
}

func (r *recordingGenerator) Generate(_ context.Context, system, user string) (string, error) {
	r.calls++
	r.system, r.user = system, user
	return r.out, r.err
}

func rct() types.ScoredDocument {
	return types.Scored(
		types.Document{ID: "30000001", Title: "Metformin and mortality: a randomized trial", Abstract: "1,200 patients...", Year: 2019, Venue: "Lancet"},
		types.Grade{DocumentID: "30000001", RelevanceScore: 0.9, MethodologyScore: 0.8, StudyType: types.StudyRCT, Recommendation: types.RecommendKeep},
	)
}

func TestSynthesize_NoDocuments(t *testing.T) {
	gen := &recordingGenerator{out: "should not be used"}
	got, err := New(gen, nil).Synthesize(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, InsufficientEvidence, got)
	assert.Zero(t, gen.calls)
}

func TestSynthesize_Prompt(t *testing.T) {
	gen := &recordingGenerator{out: "  1. Background\nMetformin (PMID: 30000001)...  \n"}
	fresh := types.Unscored(types.Document{ID: "30000002", Title: "Registry follow-up", Abstract: "Observational."})

	got, err := New(gen, nil).Synthesize(context.Background(), "Does metformin reduce mortality?", []types.ScoredDocument{rct(), fresh})
	require.NoError(t, err)
	assert.Equal(t, "1. Background\nMetformin (PMID: 30000001)...", got)

	assert.Contains(t, gen.user, "Does metformin reduce mortality?")
	assert.Contains(t, gen.user, "PMID: 30000001\nQuality Score: 0.85\nStudy Type: randomized controlled trial\nTitle: Metformin and mortality")
	assert.Contains(t, gen.user, "PMID: 30000002\nQuality Score: 0.50 (ungraded)\nTitle: Registry follow-up")
	for _, section := range []string{"Background", "Summary of High-Quality Evidence", "Summary of Lower-Quality or Conflicting Evidence", "Limitations of Current Evidence", "Conclusion"} {
		assert.Contains(t, gen.user, section)
	}
	assert.NotEmpty(t, gen.system)
}

func TestSynthesize_BackendError(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("overloaded")}
	_, err := New(gen, nil).Synthesize(context.Background(), "q", []types.ScoredDocument{rct()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestCitedPMIDs(t *testing.T) {
	text := "A trial (PMID: 111) and a cohort (PMID 222). Reviews PMIDs 333, 444 and 555; repeated pmid#111."
	assert.Equal(t, []string{"111", "222", "333", "444", "555"}, CitedPMIDs(text))
	assert.Empty(t, CitedPMIDs("no citations here"))
}

func TestUnknownCitations(t *testing.T) {
	docs := []types.ScoredDocument{rct()}
	assert.Empty(t, UnknownCitations("Strong evidence (PMID: 30000001).", docs))
	assert.Equal(t, []string{"1", "99"}, UnknownCitations("See PMID 99 and PMID 1 and PMID 30000001.", docs))
}

func TestFormatReferences(t *testing.T) {
	docs := []types.ScoredDocument{rct(), types.Unscored(types.Document{ID: "7", Title: "Untitled note"})}
	want := "1. Metformin and mortality: a randomized trial Lancet. 2019. PMID: 30000001 (quality 0.85)\n" +
		"2. Untitled note PMID: 7\n"
	assert.Equal(t, want, FormatReferences(docs))
}

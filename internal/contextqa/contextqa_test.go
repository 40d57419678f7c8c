// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package contextqa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

type recordingGenerator struct {
	out   string
	err   error
	user  string
	calls int
}

func (r *recordingGenerator) Generate(_ context.Context, _, user string) (string, error) {
	r.calls++
	r.user = user
	return r.out, r.err
}

func sessionWith(n int) *types.SessionContext {
	sess := &types.SessionContext{ID: "s1", OriginalQuery: "treatments for Type 2 diabetes"}
	for i := 1; i <= n; i++ {
		sess.Documents = append(sess.Documents, types.ScoredDocument{
			Document:     types.Document{ID: fmt.Sprintf("%d", 1000+i), Title: fmt.Sprintf("Paper title %d", i), Abstract: strings.Repeat("a", 700)},
			Graded:       i%2 == 1,
			QualityScore: 0.75,
		})
	}
	return sess
}

func TestAnswer_NoContext(t *testing.T) {
	gen := &recordingGenerator{out: "unused"}
	a := New(gen, types.SessionConfig{}, nil)

	assert.Equal(t, NoContext, a.Answer(context.Background(), "q", nil))
	assert.Equal(t, NoContext, a.Answer(context.Background(), "q", sessionWith(0)))
	assert.Zero(t, gen.calls)
}

func TestAnswer_Prompt(t *testing.T) {
	gen := &recordingGenerator{out: " Paper 1 enrolled 1,200 patients. \n"}
	a := New(gen, types.SessionConfig{}, nil)

	got := a.Answer(context.Background(), "What sample sizes did these studies use?", sessionWith(12))
	assert.Equal(t, "Paper 1 enrolled 1,200 patients.", got)

	assert.Contains(t, gen.user, "## Original Research Question\ntreatments for Type 2 diabetes")
	assert.Contains(t, gen.user, "## Follow-up Question\nWhat sample sizes did these studies use?")
	assert.Contains(t, gen.user, "No summary available.")
	assert.Contains(t, gen.user, "[Paper 1]\nPMID: 1001\nTitle: Paper title 1\nQuality Score: 0.75\nAbstract: "+strings.Repeat("a", 600)+"...")
	assert.Contains(t, gen.user, "[Paper 2]\nPMID: 1002\nTitle: Paper title 2\nQuality Score: N/A")
	assert.Contains(t, gen.user, "[Paper 10]")
	assert.NotContains(t, gen.user, "[Paper 11]")
}

func TestAnswer_Limits(t *testing.T) {
	gen := &recordingGenerator{out: "ok"}
	a := New(gen, types.SessionConfig{QADocuments: 2, QAAbstractChars: 5}, nil)
	sess := sessionWith(3)
	sess.SynthesisSummary = "Metformin first."

	a.Answer(context.Background(), "q", sess)
	assert.Contains(t, gen.user, "Abstract: aaaaa...")
	assert.Contains(t, gen.user, "Metformin first.")
	assert.NotContains(t, gen.user, "[Paper 3]")
}

func TestAnswer_BackendFailure(t *testing.T) {
	gen := &recordingGenerator{err: errors.New("throttled")}
	got := New(gen, types.SessionConfig{}, nil).Answer(context.Background(), "q", sessionWith(1))
	assert.Equal(t, Unavailable, got)
	assert.Equal(t, 1, gen.calls)
}

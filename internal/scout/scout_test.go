// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// --- ParseQueries ---

func TestParseQueries(t *testing.T) {
	const question = "Does metformin reduce mortality?"

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "strict json array",
			raw:  `["metformin mortality", "metformin survival diabetes", "biguanide death"]`,
			want: []string{"metformin mortality", "metformin survival diabetes", "biguanide death"},
		},
		{
			name: "fenced json",
			raw:  "```json\n[\"a query\", \"b query\"]\n```",
			want: []string{"a query", "b query"},
		},
		{
			name: "array embedded in prose",
			raw:  `Here you go: ["metformin mortality", "metformin cardiovascular outcomes"] hope that helps`,
			want: []string{"metformin mortality", "metformin cardiovascular outcomes"},
		},
		{
			name: "prose with comma-separated quoted list",
			raw:  `Sure! Try "metformin mortality", "metformin all-cause death", and "biguanide survival".`,
			want: []string{"metformin mortality", "metformin all-cause death", "biguanide survival"},
		},
		{
			name: "numbered lines",
			raw:  "Here are some queries:\n1. metformin mortality\n2) metformin survival\n- biguanide outcomes\n",
			want: []string{"metformin mortality", "metformin survival", "biguanide outcomes"},
		},
		{
			name: "caps at five and drops blanks and duplicates",
			raw:  `["a1", "", "  ", "a2", "A1", "a3", "a4", "a5", "a6"]`,
			want: []string{"a1", "a2", "a3", "a4", "a5"},
		},
		{
			name: "non-string items ignored",
			raw:  `[1, "only one", null]`,
			want: []string{"only one"},
		},
		{
			name: "empty output falls back to question",
			raw:  "   ",
			want: []string{question},
		},
		{
			name: "empty array falls back through to question",
			raw:  `[]`,
			want: []string{question},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseQueries(tt.raw, question, 5))
		})
	}
}

func TestParseQueries_NeverEmpty(t *testing.T) {
	inputs := []string{"", "{}", "[", "```\n```", "Here are the queries:"}
	for _, in := range inputs {
		got := ParseQueries(in, "fallback question", 5)
		require.NotEmpty(t, got, "input %q", in)
		assert.LessOrEqual(t, len(got), 5)
		for _, q := range got {
			assert.NotEmpty(t, strings.TrimSpace(q))
		}
	}
}

// --- Run ---

type mockGenerator struct {
	out string
	err error
}

func (m *mockGenerator) Generate(_ context.Context, _, user string) (string, error) {
	return m.out, m.err
}

type mockRetriever struct {
	searchResults map[string][]string
	searchErr     map[string]error
	records       map[string]types.RawRecord
	failChunk     map[string]bool
	fetchCalls    [][]string
}

func (m *mockRetriever) Search(_ context.Context, query string, _ int) ([]string, error) {
	if err := m.searchErr[query]; err != nil {
		return nil, err
	}
	return m.searchResults[query], nil
}

func (m *mockRetriever) Fetch(_ context.Context, ids []string) ([]types.RawRecord, error) {
	m.fetchCalls = append(m.fetchCalls, append([]string(nil), ids...))
	for _, id := range ids {
		if m.failChunk[id] {
			return nil, errors.New("efetch 502")
		}
	}
	var out []types.RawRecord
	for _, id := range ids {
		if rec, ok := m.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func rec(id, title, abstract, year string) types.RawRecord {
	return types.RawRecord{ID: id, Title: title, Abstract: abstract, Year: year, Venue: "J"}
}

func TestRun_ChunkingAndValidation(t *testing.T) {
	gen := &mockGenerator{out: `["q1", "q2", "q3"]`}
	ret := &mockRetriever{
		searchResults: map[string][]string{
			"q1": {"1", "2", "3"},
			"q2": {"3", "4"},
		},
		searchErr: map[string]error{"q3": errors.New("esearch down")},
		records: map[string]types.RawRecord{
			"1": rec("1", "Title one", "Abstract one", "2019 Dec-2020 Jan"),
			"2": rec("2", "", "No title", "2020"),
			"3": rec("3", "Title three", "Abstract three", ""),
			"4": rec("4", "Title four", "   ", "2021"),
		},
	}

	s := New(gen, ret, types.RetrievalConfig{FetchChunkSize: 2}, nil)
	res, err := s.Run(context.Background(), "question", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"q1", "q2", "q3"}, res.Queries)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, ret.fetchCalls)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "1", res.Documents[0].ID)
	assert.Equal(t, 2019, res.Documents[0].Year)
	assert.Equal(t, "3", res.Documents[1].ID)
	assert.Zero(t, res.Documents[1].Year)
	assert.Equal(t, 2, res.Skipped)
}

func TestRun_FailedChunkIsSkipped(t *testing.T) {
	gen := &mockGenerator{out: `["q1"]`}
	ret := &mockRetriever{
		searchResults: map[string][]string{"q1": {"1", "2", "3"}},
		records: map[string]types.RawRecord{
			"1": rec("1", "T1", "A1", "2020"),
			"2": rec("2", "T2", "A2", "2020"),
			"3": rec("3", "T3", "A3", "2020"),
		},
		failChunk: map[string]bool{"1": true},
	}

	s := New(gen, ret, types.RetrievalConfig{FetchChunkSize: 2}, nil)
	res, err := s.Run(context.Background(), "question", "")
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "3", res.Documents[0].ID)
}

func TestRun_ExpansionFailureUsesQuestion(t *testing.T) {
	gen := &mockGenerator{err: errors.New("timeout")}
	ret := &mockRetriever{searchResults: map[string][]string{}}

	s := New(gen, ret, types.RetrievalConfig{}, nil)
	res, err := s.Run(context.Background(), "metformin outcomes", "in elderly")
	require.NoError(t, err)
	assert.Equal(t, []string{"metformin outcomes in elderly"}, res.Queries)
	assert.Empty(t, res.Documents)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := &mockGenerator{out: `["q1"]`}
	ret := &mockRetriever{searchErr: map[string]error{"q1": context.Canceled}}

	_, err := New(gen, ret, types.RetrievalConfig{}, nil).Run(ctx, "q", "")
	assert.ErrorIs(t, err, context.Canceled)
}

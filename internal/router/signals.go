// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package router

import (
	"regexp"
	"strings"
)

// ReferenceKind classifies how a follow-up points back at earlier results.
type ReferenceKind string

const (
	RefNone          ReferenceKind = ""
	RefClarification ReferenceKind = "clarification"
	RefComparison    ReferenceKind = "comparison"
	RefDeictic       ReferenceKind = "deictic"
	RefExplicit      ReferenceKind = "explicit_reference"
	RefGeneral       ReferenceKind = "general_reference"
)

// Strong reports whether the reference alone routes to cached context.
func (k ReferenceKind) Strong() bool {
	switch k {
	case RefClarification, RefComparison, RefDeictic, RefExplicit:
		return true
	}
	return false
}

type referenceFamily struct {
	kind     ReferenceKind
	patterns []*regexp.Regexp
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// Families are tried in order; the first with a matching pattern wins.
var referenceFamilies = []referenceFamily{
	{RefClarification, compileAll(
		`\bcan you (explain|clarify|elaborate|expand)\b`,
		`\bwhat (do|did|does) (you|it|they|that) mean\b`,
		`\btell me more about\b`,
		`\bmore (details|information|info) (on|about)\b`,
		`\bhow (do|does|did) (this|that|these|those)\b`,
	)},
	{RefComparison, compileAll(
		`\bcompare (these|those|the|them)\b`,
		`\bwhich (of these|of those|one|study|paper)\b`,
		`\bbetween (these|those|the)\b`,
		`\bsummarize (the|these|those)\b`,
	)},
	{RefDeictic, compileAll(
		`\b(these|those)\s+(studies|papers|results|findings|trials|articles)\b`,
		`\bthe\s+(studies|papers)\b`,
		`\babove\s+(studies|papers|results|findings|mentioned)\b`,
		`\bprevious(ly)?\s+(mentioned|discussed|found|shown)\b`,
	)},
	{RefExplicit, compileAll(
		`\b(first|second|third|1st|2nd|3rd)\s+(study|paper|article|finding)\b`,
		`\bpaper\s*#?\d+\b`,
		`\bpmid\s*[:#]?\s*\d+\b`,
		`\bstudy\s*#?\d+\b`,
	)},
	{RefGeneral, compileAll(
		`\bthe\s+(results|findings|trials|articles)\b`,
		`\bwhat about the\b`,
	)},
}

var newTopicPatterns = compileAll(
	`\bwhat (is|are|causes?|treatments?)\s+\w+\b`,
	`\bhow (do|does|is|are)\s+\w+\s+(work|caused|treated|diagnosed)\b`,
	`\btell me about\s+\w+\b`,
)

// DetectReference returns the kind of back-reference in query, or RefNone.
func DetectReference(query string) ReferenceKind {
	for _, f := range referenceFamilies {
		for _, p := range f.patterns {
			if p.MatchString(query) {
				return f.kind
			}
		}
	}
	return RefNone
}

// DetectNewTopic reports whether query reads like a fresh, self-contained
// question.
func DetectNewTopic(query string) bool {
	for _, p := range newTopicPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

var wordRe = regexp.MustCompile(`\b[a-z]+\b`)

var stopWords = toSet(
	"what", "are", "is", "the", "a", "an", "of", "for", "in", "on",
	"to", "with", "and", "or", "how", "does", "do", "did", "can",
	"could", "would", "should", "these", "those", "this", "that",
	"about", "from", "by", "be", "been", "being", "have", "has",
	"had", "there", "their", "they", "them", "it", "its", "my",
	"your", "our", "me", "you", "we", "i", "he", "she", "who",
	"which", "when", "where", "why", "if", "then", "so", "but",
	"not", "no", "yes", "all", "any", "some", "more", "most",
	"other", "into", "over", "such", "only", "same", "than",
	"very", "just", "also", "now", "here", "well", "way", "may",
	"use", "used", "using", "tell", "show", "find", "found",
)

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Keywords returns the content words of text: lowercase letter runs longer
// than two characters that are not stop words.
func Keywords(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if len(w) > 2 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

// KeywordOverlap scores how much current shares vocabulary with original.
// It is the larger of the Jaccard index and the share of original's
// keywords that also occur in current, so a follow-up that restates the
// original topic and adds to it scores 1.
func KeywordOverlap(current, original string) float64 {
	a, b := Keywords(current), Keywords(original)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if b[w] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	jaccard := float64(shared) / float64(union)
	containment := float64(shared) / float64(len(b))
	return max(jaccard, containment)
}

var (
	focusPrefixes = compileAll(
		`^what about\s+`,
		`^how about\s+`,
		`^tell me about\s+`,
		`^what are( the)?\s+`,
		`^can you (tell me|explain|find)\s+`,
	)
	trailingQuestion = regexp.MustCompile(`\?+$`)
	trailingFiller   = regexp.MustCompile(`(?i)\s+(specifically|in particular|please)$`)
)

// ExtractFocus strips question scaffolding from a follow-up, so that
// "What about metformin side effects specifically?" yields
// "metformin side effects". It returns "" when nothing meaningful remains
// or nothing was stripped.
func ExtractFocus(query string) string {
	lower := strings.ToLower(query)
	focus := lower
	for _, p := range focusPrefixes {
		focus = p.ReplaceAllString(focus, "")
	}
	focus = strings.TrimSpace(trailingQuestion.ReplaceAllString(focus, ""))
	focus = strings.TrimSpace(trailingFiller.ReplaceAllString(focus, ""))
	if len(focus) > 3 && focus != lower {
		return focus
	}
	return ""
}

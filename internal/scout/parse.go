// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package scout

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	codeFence    = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	bracketed    = regexp.MustCompile(`(?s)\[.*?\]`)
	doubleQuoted = regexp.MustCompile(`"((?:[^"\\]|\\.)+)"|“([^”]+)”`)
	listMarker   = regexp.MustCompile(`^(?:[-*•]+|\d+[.)]|\(\d+\))\s*`)
)

// ParseQueries extracts search queries from a model's expansion output.
// It tries, in order: strict JSON array, the first JSON array embedded in
// surrounding text, double-quoted strings, and one query per list line.
// When every strategy yields nothing it returns fallback alone. The result
// has no blank or duplicate entries and at most limit items.
func ParseQueries(raw, fallback string, limit int) []string {
	if limit <= 0 {
		limit = defaultMaxQueries
	}
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	strategies := []func(string) []string{
		strictArray,
		embeddedArray,
		quotedStrings,
		listLines,
	}
	for _, strategy := range strategies {
		if qs := clean(strategy(text), limit); len(qs) > 0 {
			return qs
		}
	}
	return []string{strings.TrimSpace(fallback)}
}

func strictArray(text string) []string {
	var items []any
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil
	}
	return stringsOf(items)
}

func embeddedArray(text string) []string {
	for _, candidate := range bracketed.FindAllString(text, -1) {
		if qs := strictArray(candidate); len(qs) > 0 {
			return qs
		}
	}
	return nil
}

func quotedStrings(text string) []string {
	var out []string
	for _, m := range doubleQuoted.FindAllStringSubmatch(text, -1) {
		s := m[1]
		if s == "" {
			s = m[2]
		}
		out = append(out, strings.ReplaceAll(s, `\"`, `"`))
	}
	return out
}

func listLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") || strings.HasSuffix(line, ":") {
			continue
		}
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(line, "\"'`,[] ")
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "here are") || strings.HasPrefix(lower, "sure") || len(line) > 200 {
			continue
		}
		out = append(out, line)
	}
	return out
}

func stringsOf(items []any) []string {
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func clean(queries []string, limit int) []string {
	seen := make(map[string]bool, len(queries))
	var out []string
	for _, q := range queries {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

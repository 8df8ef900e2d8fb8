// Package content turns a flat message string into typed renderable
// segments: plain text, fenced code blocks, and inline highlights.
//
// Parsing is pure and deterministic. Segments are derived fresh on every
// render and never persisted.
package content

import (
	"regexp"
	"sort"
	"strings"
)

// Kind identifies the type of a segment.
type Kind string

const (
	KindText      Kind = "text"
	KindCode      Kind = "code"
	KindHighlight Kind = "highlight"
)

// Segment is a typed, contiguous span of a message's text.
type Segment struct {
	Kind     Kind   `json:"kind"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"` // code segments only
}

var (
	// A fence is ``` plus an optional language word, a newline, the body,
	// and a closing ```. An unterminated fence produces no match at all,
	// so the stray delimiter falls through as plain text.
	codeFenceRe = regexp.MustCompile("(?s)```(\\w+)?\\n(.*?)```")

	// Inline highlight: a pair of ** markers bracketing inline text.
	highlightRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

type match struct {
	start, end int
	seg        Segment
}

// Parse maps input to an ordered segment list. An empty input yields an
// empty list; an input with no pattern matches yields a single text
// segment equal to the input.
func Parse(input string) []Segment {
	if input == "" {
		return []Segment{}
	}

	var matches []match

	var codeSpans [][2]int
	for _, idx := range codeFenceRe.FindAllStringSubmatchIndex(input, -1) {
		lang := "text"
		if idx[2] >= 0 {
			lang = input[idx[2]:idx[3]]
		}
		body := strings.TrimSpace(input[idx[4]:idx[5]])
		codeSpans = append(codeSpans, [2]int{idx[0], idx[1]})
		matches = append(matches, match{
			start: idx[0],
			end:   idx[1],
			seg:   Segment{Kind: KindCode, Content: body, Language: lang},
		})
	}

	for _, idx := range highlightRe.FindAllStringSubmatchIndex(input, -1) {
		// Highlight markers inside a code fence are code, not emphasis.
		if insideAny(codeSpans, idx[0], idx[1]) {
			continue
		}
		matches = append(matches, match{
			start: idx[0],
			end:   idx[1],
			seg:   Segment{Kind: KindHighlight, Content: input[idx[2]:idx[3]]},
		})
	}

	if len(matches) == 0 {
		return []Segment{{Kind: KindText, Content: input}}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].start < matches[j].start
	})

	var segments []Segment
	last := 0
	for _, m := range matches {
		if m.start > last {
			if gap := strings.TrimSpace(input[last:m.start]); gap != "" {
				segments = append(segments, Segment{Kind: KindText, Content: gap})
			}
		}
		// Empty code bodies are dropped; the fence still consumes its span.
		if m.seg.Kind != KindCode || m.seg.Content != "" {
			segments = append(segments, m.seg)
		}
		last = m.end
	}

	if last < len(input) {
		if rest := strings.TrimSpace(input[last:]); rest != "" {
			segments = append(segments, Segment{Kind: KindText, Content: rest})
		}
	}

	return segments
}

// insideAny reports whether [start,end) overlaps any of the given spans.
func insideAny(spans [][2]int, start, end int) bool {
	for _, sp := range spans {
		if start < sp[1] && end > sp[0] {
			return true
		}
	}
	return false
}

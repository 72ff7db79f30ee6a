package main

import (
	"regexp"
	"strings"
)

var wordRegex = regexp.MustCompile(`[a-z0-9]+`)

// stopWords are common words that never count as a match.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"to": true, "of": true, "in": true, "for": true, "on": true,
	"it": true, "that": true, "this": true, "with": true, "at": true,
	"by": true, "from": true, "as": true, "into": true, "like": true,
}

// tokenize extracts distinct, meaningful words from text.
func tokenize(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]bool)
	result := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) >= 2 && !seen[w] && !stopWords[w] {
			seen[w] = true
			result = append(result, w)
		}
	}
	return result
}

// scorer rates messages by how many of its keywords they mention.
type scorer struct {
	keywords map[string]bool
	base     float64
}

func newScorer(keywords []string, base float64) *scorer {
	s := &scorer{keywords: make(map[string]bool), base: base}
	for _, k := range keywords {
		for _, t := range tokenize(k) {
			s.keywords[t] = true
		}
	}
	return s
}

// score returns a confidence in [0,1] and the matched keywords. Each match
// adds a third of the remaining headroom above the base.
func (s *scorer) score(text string) (float64, []string) {
	var matched []string
	for _, t := range tokenize(text) {
		if s.keywords[t] {
			matched = append(matched, t)
		}
	}

	c := s.base
	for range matched {
		c += (1 - c) / 3
	}
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c, matched
}

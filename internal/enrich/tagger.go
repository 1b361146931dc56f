// Package enrich implements the enrichment worker: eligibility matching,
// condensation, translation and tag extraction for raw articles.
package enrich

import (
	"strings"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

// Tagger matches article bodies against the static keyword list unioned with
// the enabled tag rules. Matching is case-insensitive substring search.
type Tagger struct {
	keywords []string
}

// NewTagger builds a Tagger over the static keyword list.
func NewTagger(keywords []string) *Tagger {
	return &Tagger{keywords: keywords}
}

// Eligible reports whether at least one keyword or enabled rule pattern
// occurs in the body.
func (t *Tagger) Eligible(body string, rules []pipeline.TagRule) bool {
	lower := strings.ToLower(body)
	for _, kw := range t.keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	for _, rule := range rules {
		if rule.Pattern != "" && strings.Contains(lower, strings.ToLower(rule.Pattern)) {
			return true
		}
	}
	return false
}

// Extract returns the ordered set of tags whose keyword or rule pattern
// occurs in the body: static keywords first, then rule tags, deduplicated in
// first-seen order.
func (t *Tagger) Extract(body string, rules []pipeline.TagRule) []string {
	lower := strings.ToLower(body)
	var (
		tags []string
		seen = map[string]struct{}{}
	)
	add := func(tag string) {
		if tag == "" {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	for _, kw := range t.keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			add(kw)
		}
	}
	for _, rule := range rules {
		if rule.Pattern != "" && strings.Contains(lower, strings.ToLower(rule.Pattern)) {
			add(rule.Tag)
		}
	}
	return tags
}

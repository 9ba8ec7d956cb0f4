package storage

import (
	"sort"
	"strings"

	"github.com/scrypster/docmem/pkg/types"
)

// Scoring weights for event search.
const (
	digestHitScore  = 2.0
	keywordHitScore = 1.0
	baselineScore   = 0.1
)

// Tokenize lower-cases text, splits it on whitespace and removes duplicate
// tokens while keeping first-seen order.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	seen := make(map[string]bool, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// Score computes the relevance of e for the query tokens. With no tokens
// every event scores the same baseline so recency decides the order.
func Score(e types.EventDigest, tokens []string) float64 {
	if len(tokens) == 0 {
		return baselineScore
	}
	digest := strings.ToLower(e.Digest)
	keywords := make([]string, len(e.Keywords))
	for i, k := range e.Keywords {
		keywords[i] = strings.ToLower(k)
	}

	var score float64
	for _, tok := range tokens {
		if strings.Contains(digest, tok) {
			score += digestHitScore
		}
		for _, k := range keywords {
			if strings.Contains(k, tok) {
				score += keywordHitScore
			}
		}
	}
	return score
}

// Rank filters events with q, scores the survivors and returns the top
// q.TopK ordered by score desc, timestamp desc, then event id. When q has
// query text, events that match no token are dropped.
func Rank(events []types.EventDigest, q EventQuery) []types.ScoredEvent {
	q.Normalize()
	tokens := Tokenize(q.Text)

	hits := make([]types.ScoredEvent, 0, len(events))
	for _, e := range events {
		if !q.Admits(e) {
			continue
		}
		s := Score(e, tokens)
		if len(tokens) > 0 && s == 0 {
			continue
		}
		hits = append(hits, types.ScoredEvent{Event: e, Score: s})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Event.Timestamp.Equal(b.Event.Timestamp) {
			return a.Event.Timestamp.After(b.Event.Timestamp)
		}
		return a.Event.EventID < b.Event.EventID
	})

	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	return hits
}

// ABOUTME: Deterministic lexical scorer based on query term overlap
// ABOUTME: Default implementation and test double; no external inference

package scorer

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// LexicalVersion identifies the lexical scoring heuristics.
const LexicalVersion = "lexical-v1"

var (
	tokenPattern    = regexp.MustCompile(`[a-zA-Z0-9]+`)
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// Lexical scores candidates by query term overlap with a title bonus and
// summarizes text by frequency-ranked sentence extraction.
type Lexical struct{}

// NewLexical creates the lexical scorer
func NewLexical() *Lexical {
	return &Lexical{}
}

// ScoreBatch counts query terms appearing in each candidate's title and
// summary. Title hits are weighted 1.5x on top of the base overlap.
func (l *Lexical) ScoreBatch(ctx context.Context, query string, cands []Candidate) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(query)
	scores := make([]float64, len(cands))
	for i, cand := range cands {
		haystack := strings.ToLower(cand.Title + " " + cand.Summary)
		title := strings.ToLower(cand.Title)
		overlap := 0
		titleOverlap := 0
		for term := range terms {
			if strings.Contains(haystack, term) {
				overlap++
			}
			if strings.Contains(title, term) {
				titleOverlap++
			}
		}
		scores[i] = float64(overlap) + float64(titleOverlap)*1.5
	}
	return scores, nil
}

// Summarize extracts the highest-frequency sentences from text, preserving
// original sentence order, bounded by maxWords.
func (l *Lexical) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if maxWords <= 0 {
		maxWords = 40
	}

	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) == 0 {
		return truncateWords(text, maxWords), nil
	}

	// Word frequencies across the whole text
	freq := make(map[string]int)
	for _, sent := range sentences {
		for term := range tokenize(sent) {
			freq[term]++
		}
	}

	type ranked struct {
		index int
		score int
	}
	scored := make([]ranked, len(sentences))
	for i, sent := range sentences {
		score := 0
		for term := range tokenize(sent) {
			score += freq[term]
		}
		scored[i] = ranked{index: i, score: score}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].score > scored[b].score
	})

	// Take top sentences until the word budget is spent, then restore order
	budget := maxWords
	keep := make([]int, 0, len(scored))
	for _, r := range scored {
		words := len(strings.Fields(sentences[r.index]))
		if words > budget && len(keep) > 0 {
			continue
		}
		keep = append(keep, r.index)
		budget -= words
		if budget <= 0 {
			break
		}
	}
	sort.Ints(keep)

	parts := make([]string, len(keep))
	for i, idx := range keep {
		parts[i] = strings.TrimSpace(sentences[idx])
	}
	return truncateWords(strings.Join(parts, " "), maxWords), nil
}

// Version implements Scorer
func (l *Lexical) Version() string {
	return LexicalVersion
}

func tokenize(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		terms[tok] = struct{}{}
	}
	return terms
}

func truncateWords(text string, maxWords int) string {
	fields := strings.Fields(text)
	if len(fields) <= maxWords {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:maxWords], " ")
}

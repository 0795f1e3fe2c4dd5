// Package rerank implements the LLM-based reranker driver: query-type
// classification, prompt assembly with stable indices, a tolerant
// JSON-array parse with retry, and graceful fallback to the hybrid order.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/helixmem/engine/internal/llm"
	"github.com/helixmem/engine/internal/search"
)

// QueryType is the coarse classification used to pick a rerank instruction.
type QueryType string

const (
	Temporal         QueryType = "temporal"
	KnowledgeUpdate  QueryType = "knowledge-update"
	MultiHop         QueryType = "multi-hop"
	Preference       QueryType = "preference"
	AssistantRecall  QueryType = "assistant-recall"
	Factual          QueryType = "factual"
	General          QueryType = "general"
)

// Regex set fixed by the external contract; the classifier is intentionally
// coarse and English-specific.
var (
	temporalRe        = regexp.MustCompile(`(?i)\b(when|what (date|time|day|month|year)|how long ago|how recently|last time|first time|before|after)\b`)
	knowledgeUpdateRe = regexp.MustCompile(`(?i)\b(change|update|move|switch|new|current|now|still|anymore|used to|latest)\b`)
	multiHopRe1       = regexp.MustCompile(`(?i)\bwhat .+ (of|for) .+ (the|my|a) .+\b`)
	multiHopRe2       = regexp.MustCompile(`(?i)\b\w+'s \w+'s\b`)
	preferenceRe      = regexp.MustCompile(`(?i)\b(favorite|prefer|like|enjoy|love|hate|dislike|opinion)\b`)
	assistantRecallRe = regexp.MustCompile(`(?i)\b(you (said|told|recommended|suggested|mentioned)|did you|your (advice|recommendation|suggestion))\b`)
	factualRe         = regexp.MustCompile(`(?i)\b(who|what|where|which|name|tell me about)\b`)
)

// Classify assigns a QueryType using the fixed regex set, checked in the
// priority order documented in the glossary.
func Classify(query string) QueryType {
	switch {
	case temporalRe.MatchString(query):
		return Temporal
	case knowledgeUpdateRe.MatchString(query):
		return KnowledgeUpdate
	case multiHopRe1.MatchString(query) || multiHopRe2.MatchString(query):
		return MultiHop
	case preferenceRe.MatchString(query):
		return Preference
	case assistantRecallRe.MatchString(query):
		return AssistantRecall
	case factualRe.MatchString(query):
		return Factual
	default:
		return General
	}
}

var instructions = map[QueryType]string{
	Temporal:        "Favor candidates with a clear, specific date or time reference relevant to the question.",
	KnowledgeUpdate: "Favor the most recent candidate that reflects a change or update, over older superseded facts.",
	MultiHop:        "Favor candidates that connect two or more related facts needed to answer the question.",
	Preference:      "Favor candidates that state an explicit preference, opinion, or like/dislike.",
	AssistantRecall: "Favor candidates describing something the assistant previously said or recommended.",
	Factual:         "Favor candidates that directly state the requested fact.",
	General:         "Favor candidates most directly relevant to the question.",
}

const (
	maxContentLen = 1000
	maxAttempts   = 3
)

// Driver calls an external generator to rescore hybrid results.
type Driver struct {
	Generator llm.Generator
	Model     string
	// Sleep is used for the linear retry backoff; defaults to time.Sleep.
	// Tests override it to avoid real delays.
	Sleep func(time.Duration)
}

// New creates a Driver. If sleep is nil, time.Sleep is used.
func New(gen llm.Generator, model string, sleep func(time.Duration)) *Driver {
	if sleep == nil {
		sleep = time.Sleep
	}
	return &Driver{Generator: gen, Model: model, Sleep: sleep}
}

type candidateScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank rescales results via the external generator and returns the top k.
// If results already number k or fewer, they're returned unchanged. On
// repeated parse or transport failure, the original hybrid order's top k is
// returned with no error.
func (d *Driver) Rerank(ctx context.Context, query string, results []search.Result, k int) []search.Result {
	if len(results) <= k {
		return results
	}

	queryType := Classify(query)
	prompt := buildPrompt(query, queryType, results)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := d.Generator.Generate(ctx, d.Model, prompt)
		if err != nil {
			lastErr = err
		} else {
			scores, perr := parseScores(out)
			if perr == nil {
				return applyScores(results, scores, k)
			}
			lastErr = perr
		}

		if attempt < maxAttempts {
			d.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	_ = lastErr
	return topK(results, k)
}

func buildPrompt(query string, qt QueryType, results []search.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", query)
	fmt.Fprintf(&b, "Instruction: %s\n", instructions[qt])
	b.WriteString("Candidates:\n")
	for i, r := range results {
		content := r.Chunk.Content
		if len(content) > maxContentLen {
			content = content[:maxContentLen]
		}
		date := r.Chunk.Date
		if date == "" {
			date = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (date: %s) %s\n", i, date, content)
	}
	b.WriteString("Respond with a JSON array of {\"index\": i, \"score\": s} covering every candidate, score 0-10.\n")
	return b.String()
}

// parseScores tries every top-level balanced "[...]" block in text, in
// order, and returns the first that unmarshals into a candidateScore array.
// A greedy first-"["-to-last-"]" match would swallow prose that restates
// candidate indices before the real array (e.g. "Looking at [0] and [1],
// here are the scores: [...]") into one unparseable blob; trying each
// balanced block in turn instead skips bracket fragments like "[0]" that
// don't actually parse as the expected shape and finds the real array.
func parseScores(text string) ([]candidateScore, error) {
	var lastErr error
	for _, block := range balancedArrays(text) {
		var scores []candidateScore
		err := json.Unmarshal([]byte(block), &scores)
		if err == nil {
			return scores, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no JSON array found in rerank output")
	}
	return nil, lastErr
}

// balancedArrays returns every top-level "[...]" block in text in
// left-to-right order, tracking bracket depth (and skipping brackets inside
// string literals) rather than a greedy regex.
func balancedArrays(text string) []string {
	var out []string
	pos := 0
	for {
		rel := strings.IndexByte(text[pos:], '[')
		if rel < 0 {
			return out
		}
		start := pos + rel
		end := matchingBracket(text, start)
		if end < 0 {
			return out
		}
		out = append(out, text[start:end+1])
		pos = end + 1
	}
}

// matchingBracket returns the index of the ']' that closes the '[' at open,
// or -1 if text[open:] never balances. String contents are skipped so a
// literal "]" or "[" inside a quoted field never perturbs the depth count.
func matchingBracket(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func applyScores(results []search.Result, scores []candidateScore, k int) []search.Result {
	byIndex := make(map[int]float64, len(scores))
	for _, s := range scores {
		byIndex[s.Index] = s.Score
	}

	out := make([]search.Result, len(results))
	copy(out, results)
	for i := range out {
		rerankScore := byIndex[i]
		out[i].RerankScore = &rerankScore
		out[i].Score = rerankScore / 10
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func topK(results []search.Result, k int) []search.Result {
	if len(results) <= k {
		return results
	}
	return results[:k]
}

// Package facts implements the trailing-JSON side channel the completion
// model uses to return structured data (memory updates, chart descriptions)
// appended after its natural-language reply, and the shallow-merge
// reconciliation applied to extracted fact sets.
package facts

import (
	"encoding/json"
	"strings"
)

// FactSet is a flat mapping of user-specific facts extracted from text.
// Values are JSON scalars (string, number, bool) in practice, but the type
// does not enforce that: whatever the model returned is stored as-is.
type FactSet map[string]any

// SplitTrailing separates a completion into its human-readable prefix and an
// optional trailing JSON object. Detection matches the wire convention: a
// greedy span from the first '{' through the end of the string, which means
// the text must end with '}' for anything to be attempted. If no such span
// exists, or the span does not parse as a JSON object, the whole input is
// returned as human text with a nil fact set. This degradation is deliberate
// and must stay silent; a reply containing literal braces simply renders
// as plain text.
func SplitTrailing(text string) (string, FactSet) {
	start, ok := trailingSpan(text)
	if !ok {
		return text, nil
	}

	var facts FactSet
	if err := json.Unmarshal([]byte(text[start:]), &facts); err != nil {
		return text, nil
	}
	return strings.TrimSpace(text[:start]), facts
}

// DisplayText strips a trailing fact block for rendering. Assistant messages
// are persisted already stripped, but history written before that invariant
// existed may still carry the block, so this runs on every read path.
func DisplayText(text string) string {
	human, facts := SplitTrailing(text)
	if facts == nil {
		return text
	}
	return human
}

// Chart is the optional chart-description payload a reply may end with.
type Chart struct {
	Type    string         `json:"type"`
	Data    []any          `json:"data"`
	Options map[string]any `json:"options,omitempty"`
}

// DecodeChart reuses the trailing-JSON detection with chart-shape
// post-validation: a "type" string plus an array "data" field.
func DecodeChart(text string) (Chart, bool) {
	start, ok := trailingSpan(text)
	if !ok {
		return Chart{}, false
	}
	var chart Chart
	if err := json.Unmarshal([]byte(text[start:]), &chart); err != nil {
		return Chart{}, false
	}
	if strings.TrimSpace(chart.Type) == "" || chart.Data == nil {
		return Chart{}, false
	}
	return chart, true
}

// trailingSpan reports the start offset of the candidate JSON object, which
// runs from the first '{' to the end of the string.
func trailingSpan(text string) (int, bool) {
	if !strings.HasSuffix(text, "}") {
		return 0, false
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return 0, false
	}
	return start, true
}

// Merge shallow-merges incoming into existing: every incoming key overwrites,
// absent keys are preserved, no deep merge. The inputs are not mutated. An
// empty incoming set returns existing unchanged, so callers can treat "no new
// facts" as a no-op without a separate branch.
func Merge(existing, incoming FactSet) FactSet {
	if len(incoming) == 0 {
		return existing
	}
	merged := make(FactSet, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// StripCodeFence removes a markdown ```json fence around extractor-pass
// output. Models asked to "return only a valid JSON object" still wrap it in
// a fence often enough that the original client stripped it, so we do too.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseFactSet decodes a standalone fact object (the user-message extraction
// pass returns one as its entire reply). Fences are stripped first. A nil set
// and false are returned for anything that is not a JSON object.
func ParseFactSet(raw string) (FactSet, bool) {
	raw = StripCodeFence(raw)
	if raw == "" {
		return nil, false
	}
	var facts FactSet
	if err := json.Unmarshal([]byte(raw), &facts); err != nil {
		return nil, false
	}
	return facts, true
}

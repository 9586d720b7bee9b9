package facts

import (
	"reflect"
	"testing"
)

func TestSplitTrailingSeparatesFactBlock(t *testing.T) {
	human, got := SplitTrailing("Great goal! Saving adds up fast.\n{\"savingsGoal\":300}")
	if human != "Great goal! Saving adds up fast." {
		t.Fatalf("human = %q", human)
	}
	want := FactSet{"savingsGoal": float64(300)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("facts = %v, want %v", got, want)
	}
}

func TestSplitTrailingEmptyObjectIsNotNil(t *testing.T) {
	human, got := SplitTrailing("Nothing new today.\n{}")
	if human != "Nothing new today." {
		t.Fatalf("human = %q", human)
	}
	if got == nil {
		t.Fatalf("facts = nil, want empty non-nil set")
	}
	if len(got) != 0 {
		t.Fatalf("facts = %v, want empty", got)
	}
}

func TestSplitTrailingNoBlock(t *testing.T) {
	for _, text := range []string{
		"",
		"just words",
		"ends with brace but no open }",
		"open { but never closed",
	} {
		human, got := SplitTrailing(text)
		if human != text {
			t.Fatalf("SplitTrailing(%q) human = %q, want input back", text, human)
		}
		if got != nil {
			t.Fatalf("SplitTrailing(%q) facts = %v, want nil", text, got)
		}
	}
}

func TestSplitTrailingMalformedSuffixFallsBackToPlainText(t *testing.T) {
	text := "Budget tips below {not valid json}"
	human, got := SplitTrailing(text)
	if human != text || got != nil {
		t.Fatalf("SplitTrailing(%q) = (%q, %v), want passthrough", text, human, got)
	}
}

func TestSplitTrailingGreedyFromFirstBrace(t *testing.T) {
	// A brace earlier in the prose makes the greedy span unparseable; the
	// documented failure mode is to treat the whole reply as plain text.
	text := "Use {placeholders} carefully.\n{\"name\":\"Alex\"}"
	human, got := SplitTrailing(text)
	if human != text || got != nil {
		t.Fatalf("SplitTrailing(%q) = (%q, %v), want passthrough", text, human, got)
	}
}

func TestSplitTrailingRequiresBlockAtEnd(t *testing.T) {
	// A JSON object followed by more prose is not a trailing block.
	text := "Numbers: {\"a\":1} trailing prose"
	human, got := SplitTrailing(text)
	if human != text || got != nil {
		t.Fatalf("SplitTrailing(%q) = (%q, %v), want passthrough", text, human, got)
	}
}

func TestDisplayTextStripsLegacyContent(t *testing.T) {
	if got := DisplayText("Answer here.\n{\"rank\":\"E-5\"}"); got != "Answer here." {
		t.Fatalf("DisplayText = %q", got)
	}
	if got := DisplayText("plain answer"); got != "plain answer" {
		t.Fatalf("DisplayText = %q", got)
	}
}

func TestDecodeChart(t *testing.T) {
	text := "Here is the breakdown.\n{\"type\":\"BarChart\",\"data\":[[\"Category\",\"Amount\"],[\"Rent\",1200]],\"options\":{\"title\":\"Monthly\"}}"
	chart, ok := DecodeChart(text)
	if !ok {
		t.Fatalf("DecodeChart() ok = false")
	}
	if chart.Type != "BarChart" {
		t.Fatalf("chart.Type = %q", chart.Type)
	}
	if len(chart.Data) != 2 {
		t.Fatalf("chart.Data len = %d", len(chart.Data))
	}
}

func TestDecodeChartRejectsFactBlock(t *testing.T) {
	if _, ok := DecodeChart("Answer.\n{\"savingsGoal\":300}"); ok {
		t.Fatalf("DecodeChart() accepted a fact block")
	}
}

func TestMergeOverwriteAndPreserve(t *testing.T) {
	existing := FactSet{"a": 1, "b": 2}
	incoming := FactSet{"b": 3, "c": 4}
	got := Merge(existing, incoming)
	want := FactSet{"a": 1, "b": 3, "c": 4}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Merge = %v, want %v", got, want)
	}
	if existing["b"] != 2 {
		t.Fatalf("Merge mutated existing: %v", existing)
	}
}

func TestMergeEmptyIncomingIsNoOp(t *testing.T) {
	existing := FactSet{"name": "Alex"}
	got := Merge(existing, FactSet{})
	if !reflect.DeepEqual(got, existing) {
		t.Fatalf("Merge(M, {}) = %v, want %v", got, existing)
	}
	if got = Merge(nil, nil); got != nil {
		t.Fatalf("Merge(nil, nil) = %v, want nil", got)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"{\"name\":\"Alex\"}", "{\"name\":\"Alex\"}"},
		{"```json\n{\"name\":\"Alex\"}\n```", "{\"name\":\"Alex\"}"},
		{"```\n{}\n```", "{}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tc := range cases {
		if got := StripCodeFence(tc.in); got != tc.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFactSet(t *testing.T) {
	got, ok := ParseFactSet("```json\n{\"name\":\"Alex\"}\n```")
	if !ok {
		t.Fatalf("ParseFactSet() ok = false")
	}
	if got["name"] != "Alex" {
		t.Fatalf("facts = %v", got)
	}

	if _, ok := ParseFactSet("no facts here"); ok {
		t.Fatalf("ParseFactSet() accepted prose")
	}
	if _, ok := ParseFactSet(""); ok {
		t.Fatalf("ParseFactSet() accepted empty input")
	}
}

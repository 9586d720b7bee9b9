package llm

import (
	"strings"
	"testing"
)

func streamBody(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func decodeInChunks(t *testing.T, body string, chunkSize int) []string {
	t.Helper()
	var d sseDecoder
	var out []string
	for i := 0; i < len(body); i += chunkSize {
		end := i + chunkSize
		if end > len(body) {
			end = len(body)
		}
		out = append(out, d.ConsumeChunk([]byte(body[i:end]))...)
	}
	return append(out, d.Finish()...)
}

func TestDecoderFragmentsIndependentOfChunkBoundaries(t *testing.T) {
	body := streamBody(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}",
		"",
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo \"}}]}",
		": keepalive",
		"data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}",
		"data: [DONE]",
	)

	for chunkSize := 1; chunkSize <= len(body); chunkSize++ {
		got := strings.Join(decodeInChunks(t, body, chunkSize), "")
		if got != "Hello world" {
			t.Fatalf("chunkSize %d: assembled %q, want %q", chunkSize, got, "Hello world")
		}
	}
}

func TestDecoderSentinelTerminates(t *testing.T) {
	var d sseDecoder
	body := streamBody(
		"data: {\"choices\":[{\"delta\":{\"content\":\"before\"}}]}",
		"data: [DONE]",
		"data: {\"choices\":[{\"delta\":{\"content\":\"after\"}}]}",
	)
	got := d.ConsumeChunk([]byte(body))
	if strings.Join(got, "") != "before" {
		t.Fatalf("fragments = %q, want only text before [DONE]", got)
	}
	if more := d.ConsumeChunk([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n")); more != nil {
		t.Fatalf("fragments after sentinel = %q, want none", more)
	}
	if more := d.Finish(); more != nil {
		t.Fatalf("Finish() after sentinel = %q, want none", more)
	}
}

func TestDecoderSkipsMalformedLines(t *testing.T) {
	var d sseDecoder
	body := streamBody(
		"data: {not json",
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}",
	)
	got := d.ConsumeChunk([]byte(body))
	if strings.Join(got, "") != "ok" {
		t.Fatalf("fragments = %q, want malformed line skipped", got)
	}
}

func TestDecoderIgnoresEmptyDeltaAndOtherLines(t *testing.T) {
	var d sseDecoder
	body := streamBody(
		"",
		"event: ping",
		"data: {\"choices\":[{\"delta\":{}}]}",
		"data: {\"choices\":[]}",
		"data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}",
	)
	got := d.ConsumeChunk([]byte(body))
	if strings.Join(got, "") != "x" {
		t.Fatalf("fragments = %q, want %q", got, "x")
	}
}

func TestDecoderFinishFlushesUnterminatedLine(t *testing.T) {
	var d sseDecoder
	got := d.ConsumeChunk([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}"))
	if got != nil {
		t.Fatalf("incomplete line emitted early: %q", got)
	}
	if got = d.Finish(); strings.Join(got, "") != "tail" {
		t.Fatalf("Finish() = %q, want %q", got, "tail")
	}
}

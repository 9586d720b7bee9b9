package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// sseDecoder turns raw byte chunks of a server-sent-event completion stream
// into text fragments. Chunk boundaries are arbitrary: the final, possibly
// incomplete line of each chunk is carried over and prepended to the next.
// Once the [DONE] sentinel is seen the decoder emits nothing further, even if
// more bytes arrive.
type sseDecoder struct {
	carry string
	done  bool
}

type streamPayload struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

const doneSentinel = "[DONE]"

// ConsumeChunk decodes one chunk and returns the fragments it completed.
func (d *sseDecoder) ConsumeChunk(chunk []byte) []string {
	if d.done || len(chunk) == 0 {
		return nil
	}

	buf := d.carry + string(chunk)
	lines := strings.Split(buf, "\n")
	d.carry = lines[len(lines)-1]

	var out []string
	for _, line := range lines[:len(lines)-1] {
		fragment, ok := d.decodeLine(line)
		if d.done {
			break
		}
		if ok {
			out = append(out, fragment)
		}
	}
	return out
}

// Finish processes any buffered final line once the byte stream has ended.
func (d *sseDecoder) Finish() []string {
	if d.done || d.carry == "" {
		return nil
	}
	line := d.carry
	d.carry = ""
	if fragment, ok := d.decodeLine(line); ok {
		return []string{fragment}
	}
	return nil
}

// decodeLine handles one complete line. Lines without the "data: " prefix,
// including blank keep-alives, are ignored. Malformed payloads are skipped
// with a diagnostic; a bad line never fails the stream.
func (d *sseDecoder) decodeLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data: ") {
		return "", false
	}

	payload := strings.TrimPrefix(trimmed, "data: ")
	if payload == doneSentinel {
		d.done = true
		return "", false
	}

	var parsed streamPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		log.Printf("llm: skipping malformed stream line: %v", err)
		return "", false
	}
	if len(parsed.Choices) == 0 {
		return "", false
	}
	content := parsed.Choices[0].Delta.Content
	if content == "" {
		return "", false
	}
	return content, true
}

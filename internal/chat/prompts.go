package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vetai-labs/vetai/internal/facts"
	"github.com/vetai-labs/vetai/internal/store"
)

// systemPromptTemplate is the fixed instruction block sent ahead of every
// conversation. The two %s slots receive the serialized global and
// conversation memory snapshots. The trailing-JSON instructions define the
// wire convention the extractor depends on.
const systemPromptTemplate = `You are VetAI, a smart, kind, funny, and deeply knowledgeable assistant for U.S. military personnel.

Use the following memory about the user to personalize your answers:

Long-term memory:
%s

Conversation-specific memory:
%s

When you answer, always format your response to be **clear and easy to read**. Use:
- Headings (like "## Summary", "### Steps", etc.)
- Bullet points, numbered lists, and examples where appropriate
- Short paragraphs with explanations

If a visual (chart, graph, etc.) would help, append ONLY a raw JSON object **after all your text**, on a new line. DO NOT explain, describe, or preface the JSON in any way.

After answering the user, check if any personal facts about the user have changed or new facts were shared (like age, location, marital status, goals, etc.).
If so, return a JSON object with only those updated facts.
If nothing new, return an empty JSON object "{}".

First provide your structured and clear answer, then **append** the JSON object of updated facts at the end.

Be concise but thorough. Help the user with financial, military, or life advice using their memory where relevant.`

// factExtractionPromptTemplate drives the independent extraction pass over
// the user's own message. It feeds the global scope only.
const factExtractionPromptTemplate = `You are a memory extraction agent. The following message was written by a user.
Extract any useful long-term memory facts (like name, birthday, rank, financial goals, interests, family, location, etc) as a flat JSON object. Only include facts that are clearly stated. Do not make up anything.

Message:
"""
%s
"""

Return only a valid JSON object.`

const titleSystemPrompt = `You are an expert title generator for chat threads.`

const titlePromptTemplate = `You are a helpful assistant. Given this conversation, generate a short title (3-6 words) that summarizes it clearly and professionally. Do not include quotes or punctuation marks.

Conversation:
%s

Title:`

func buildSystemPrompt(global, local facts.FactSet) string {
	return fmt.Sprintf(systemPromptTemplate, serializeMemory(global), serializeMemory(local))
}

func buildFactExtractionPrompt(userText string) string {
	return fmt.Sprintf(factExtractionPromptTemplate, userText)
}

func buildTitlePrompt(messages []store.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		speaker := "VetAI"
		if m.Role == store.RoleUser {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Content))
	}
	return fmt.Sprintf(titlePromptTemplate, strings.Join(lines, "\n"))
}

func serializeMemory(m facts.FactSet) string {
	if len(m) == 0 {
		return "{}"
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// cleanTitle strips quote and period characters the title model tends to add.
func cleanTitle(raw string) string {
	return strings.TrimSpace(strings.NewReplacer(`"`, "", ".", "").Replace(raw))
}

// needsTitle reports whether the stored title is still a placeholder.
func needsTitle(title string) bool {
	switch strings.TrimSpace(title) {
	case "", store.DefaultTitle, "Untitled":
		return true
	default:
		return false
	}
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIAdapter talks to an OpenAI-compatible chat-completions endpoint.
type OpenAIAdapter struct {
	url        string
	apiKey     string
	chatModel  string
	titleModel string
	client     *http.Client
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIAdapter(cfg Config) *OpenAIAdapter {
	url := strings.TrimSpace(cfg.APIURL)
	if url == "" {
		url = "https://api.openai.com/v1/chat/completions"
	}
	chatModel := strings.TrimSpace(cfg.ChatModel)
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	titleModel := strings.TrimSpace(cfg.TitleModel)
	if titleModel == "" {
		titleModel = "gpt-3.5-turbo"
	}
	return &OpenAIAdapter{
		url:        url,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		chatModel:  chatModel,
		titleModel: titleModel,
		// No request timeout: a streaming completion runs until the
		// endpoint closes the connection or the context is cancelled.
		client: &http.Client{},
	}
}

// StreamCompletion opens a streamed completion and feeds decoded fragments to
// onDelta in arrival order. The returned string is the concatenation of all
// fragments.
func (a *OpenAIAdapter) StreamCompletion(ctx context.Context, messages []Message, onDelta DeltaHandler) (string, error) {
	body, err := a.do(ctx, completionRequest{Model: a.chatModel, Messages: messages, Stream: true})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var (
		out     strings.Builder
		decoder sseDecoder
		chunk   = make([]byte, 4096)
	)

	emit := func(fragments []string) error {
		for _, fragment := range fragments {
			out.WriteString(fragment)
			if onDelta != nil {
				if err := onDelta(fragment); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			if err := emit(decoder.ConsumeChunk(chunk[:n])); err != nil {
				return "", err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return "", fmt.Errorf("read completion stream: %w", readErr)
		}
		if decoder.done {
			break
		}
	}
	if err := emit(decoder.Finish()); err != nil {
		return "", err
	}

	return out.String(), nil
}

// Complete performs a one-shot, non-streaming completion against the title
// model. Used for title generation and the user-message fact-extraction pass.
func (a *OpenAIAdapter) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := a.do(ctx, completionRequest{Model: a.titleModel, Messages: messages})
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("completion response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (a *OpenAIAdapter) do(ctx context.Context, req completionRequest) (io.ReadCloser, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		return nil, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return res.Body, nil
}

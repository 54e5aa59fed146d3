// Package codegen streams code generation from a hosted model API. The
// model is prompted with the app's template instructions and current
// workspace files; its response carries complete files in the tagged-block
// grammar that genfiles extracts.
package codegen

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/artpar/shipyard/internal/core/scaffold"
)

const (
	anthropicVersion = "2023-06-01"
	maxTokens        = 8192
	defaultBaseURL   = "https://api.anthropic.com"
)

// Request describes one generation run.
type Request struct {
	AppName      string
	Template     string
	Description  string
	CurrentFiles map[string]string
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the pipeline's view of the code generation service. GenerateCode
// streams text deltas to onDelta as they arrive and returns the accumulated
// response once the model finishes.
type Client interface {
	GenerateCode(ctx context.Context, req Request, onDelta func(text string)) (string, error)
}

// =============================================================================
// HTTP Implementation
// =============================================================================

// AnthropicClient implements Client against an Anthropic-style messages API.
type AnthropicClient struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
}

// NewAnthropicClient creates a streaming client. baseURL falls back to the
// public endpoint when empty.
func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// Generation runs for minutes; ctx is the only deadline.
		httpc: &http.Client{},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Stream    bool      `json:"stream"`
	Messages  []message `json:"messages"`
}

// streamEvent is the subset of stream event payloads the client reads.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateCode prompts the model with the app's template instructions plus
// the current workspace files and streams the response.
func (c *AnthropicClient) GenerateCode(ctx context.Context, req Request, onDelta func(text string)) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	system, err := scaffold.SystemPrompt(req.Template, req.AppName)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Stream:    true,
		Messages:  []message{{Role: "user", Content: userMessage(req)}},
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}
	return readStream(resp.Body, onDelta)
}

// userMessage assembles the user turn: the change description, then the
// workspace files so the model rewrites rather than reinvents. Files are
// ordered by path for a stable prompt.
func userMessage(req Request) string {
	if len(req.CurrentFiles) == 0 {
		return req.Description
	}

	paths := make([]string, 0, len(req.CurrentFiles))
	for p := range req.CurrentFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	blocks := make([]string, 0, len(paths))
	for _, p := range paths {
		content := strings.TrimSuffix(req.CurrentFiles[p], "\n")
		blocks = append(blocks, fmt.Sprintf("<existing file=%q>\n%s\n</existing>", p, content))
	}
	return req.Description + "\n\nExisting files:\n" + strings.Join(blocks, "\n")
}

// readStream consumes the SSE response, forwarding text deltas and
// accumulating the full response. Ping and bookkeeping events are skipped;
// an in-stream error event aborts generation.
func readStream(r io.Reader, onDelta func(string)) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return "", fmt.Errorf("malformed stream event: %w", err)
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				full.WriteString(ev.Delta.Text)
				if onDelta != nil {
					onDelta(ev.Delta.Text)
				}
			}
		case "error":
			return "", &APIError{Type: ev.Error.Type, Message: ev.Error.Message}
		case "message_stop":
			return full.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return full.String(), nil
}

// decodeAPIError turns a non-200 response into an APIError, falling back to
// the raw body when it is not the structured error shape.
func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var parsed struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Type = parsed.Error.Type
		apiErr.Message = parsed.Error.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

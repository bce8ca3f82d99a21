package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to an OpenAI-compatible chat-completions endpoint with
// SSE streaming.
type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	BaseURL    string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    "https://api.openai.com/v1",
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type streamDelta struct {
	Content   string `json:"content"`
	ToolCalls []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

type streamChunk struct {
	Choices []struct {
		Delta        streamDelta `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	Choices []chatChoice `json:"choices"`
}

var actionTool = chatTool{
	Type: "function",
	Function: chatFunction{
		Name:        toolName,
		Description: toolDescription,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "description": "Short category of the task, e.g. calendar, email, search"},
				"request": {"type": "string", "description": "Full natural-language description of what to do"}
			},
			"required": ["action", "request"]
		}`),
	},
}

func (c *OpenAIClient) post(ctx context.Context, reqBody any) (*http.Response, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("openai: api key missing")
	}
	buf, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("openai: status=%d body=%s", resp.StatusCode, string(b))
	}
	return resp, nil
}

// StreamReply streams text deltas and surfaces a tool call, if the model
// emits one, as a single Chunk once its arguments are fully accumulated.
func (c *OpenAIClient) StreamReply(ctx context.Context, history []Message) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		messages := make([]chatMessage, 0, len(history)+1)
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
		for _, m := range history {
			messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
		}

		resp, err := c.post(ctx, chatCompletionsRequest{
			Model:    c.Model,
			Messages: messages,
			Stream:   true,
			Tools:    []chatTool{actionTool},
		})
		if err != nil {
			errCh <- err
			return
		}
		defer resp.Body.Close()

		var toolName string
		var toolArgs strings.Builder
		sawTool := false

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			for _, tc := range choice.Delta.ToolCalls {
				sawTool = true
				if tc.Function.Name != "" {
					toolName = tc.Function.Name
				}
				toolArgs.WriteString(tc.Function.Arguments)
			}
			if choice.Delta.Content != "" {
				select {
				case out <- Chunk{Text: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("openai: read stream: %w", err)
			return
		}
		if sawTool {
			select {
			case out <- Chunk{ToolCall: &ToolCall{Name: toolName, Arguments: toolArgs.String()}}:
			case <-ctx.Done():
			}
		}
	}()

	return out, errCh
}

// Summarize runs a non-streaming completion for a standalone prompt.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.post(ctx, chatCompletionsRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

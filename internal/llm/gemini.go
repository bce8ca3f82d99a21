package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient is the Gemini-backed Generator variant.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func historyToContents(history []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		contents = append(contents, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return contents
}

func (g *GeminiClient) generateConfig(withTools bool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
	}
	if withTools {
		cfg.Tools = []*genai.Tool{{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        toolName,
				Description: toolDescription,
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"action":  {Type: genai.TypeString, Description: "Short category of the task, e.g. calendar, email, search"},
						"request": {Type: genai.TypeString, Description: "Full natural-language description of what to do"},
					},
					Required: []string{"action", "request"},
				},
			}},
		}}
	}
	return cfg
}

// StreamReply streams text parts and surfaces function-call parts as tool
// chunks. Function calls arrive whole from Gemini, so no delta accumulation
// is needed.
func (g *GeminiClient) StreamReply(ctx context.Context, history []Message) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, historyToContents(history), g.generateConfig(true)) {
			if err != nil {
				if ctx.Err() == nil {
					errCh <- fmt.Errorf("gemini: stream: %w", err)
				}
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				var chunk Chunk
				switch {
				case part.FunctionCall != nil:
					args, _ := json.Marshal(part.FunctionCall.Args)
					chunk = Chunk{ToolCall: &ToolCall{Name: part.FunctionCall.Name, Arguments: string(args)}}
				case part.Text != "":
					chunk = Chunk{Text: part.Text}
				default:
					continue
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, errCh
}

// Summarize runs a non-streaming completion for a standalone prompt.
func (g *GeminiClient) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}},
		g.generateConfig(false))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

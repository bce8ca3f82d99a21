package llm

import "context"

// Message is one entry of a conversation history.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ToolCall is a structured function-call request emitted by the model. It
// travels the stream as its own chunk kind, never as prose text.
type ToolCall struct {
	Name      string
	Arguments string // raw JSON
}

// Chunk is one element of a reply stream: either a text fragment or a
// completed tool call, never both.
type Chunk struct {
	Text     string
	ToolCall *ToolCall
}

// Generator produces streamed replies and one-shot summaries. Two
// implementations exist (OpenAI-compatible and Gemini); the session picks one
// at construction and callers are oblivious to which.
type Generator interface {
	// StreamReply streams the assistant reply for the given history. The
	// chunk channel closes when the reply is complete; the error channel
	// carries at most one error.
	StreamReply(ctx context.Context, history []Message) (<-chan Chunk, <-chan error)
	// Summarize generates a short standalone completion for prompt.
	Summarize(ctx context.Context, prompt string) (string, error)
}

// systemPrompt is shared by both generator variants.
const systemPrompt = "You are a helpful, concise voice assistant. Answer clearly " +
	"and briefly in complete sentences suitable for being spoken aloud. When the " +
	"user asks for something that requires an external action, call the " +
	"execute_action function instead of describing what you would do."

// toolName is the single delegated-action function exposed to the model.
const toolName = "execute_action"

const toolDescription = "Delegate a task to an external executor. Use for " +
	"anything that must happen outside this conversation, such as booking a " +
	"meeting, sending a message, or looking something up in a connected system."

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/action"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/llm"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/session"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/transcript"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/turnpolicy"
)

// scriptedGen replays a fixed chunk sequence, optionally ending in an error.
type scriptedGen struct {
	chunks []llm.Chunk
	err    error
}

func (g *scriptedGen) StreamReply(ctx context.Context, _ []llm.Message) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		for _, c := range g.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if g.err != nil {
			errs <- g.err
		}
	}()
	return out, errs
}

func (g *scriptedGen) Summarize(ctx context.Context, prompt string) (string, error) {
	return "", nil
}

type slowSynth struct {
	mu     sync.Mutex
	calls  []string
	delays map[string]time.Duration
}

func (s *slowSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()
	if d := s.delays[text]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []byte(text), nil
}

type recEmitter struct {
	mu          sync.Mutex
	replies     []string
	transcripts []string
	audio       []string
	errs        []string
	interrupted int
}

func (e *recEmitter) Status(text string) {}
func (e *recEmitter) ReplyText(text string, partial bool) {
	e.mu.Lock()
	e.replies = append(e.replies, text)
	e.mu.Unlock()
}
func (e *recEmitter) Transcript(text string) {
	e.mu.Lock()
	e.transcripts = append(e.transcripts, text)
	e.mu.Unlock()
}
func (e *recEmitter) Audio(audio []byte) {
	e.mu.Lock()
	e.audio = append(e.audio, string(audio))
	e.mu.Unlock()
}
func (e *recEmitter) Interrupted() {
	e.mu.Lock()
	e.interrupted++
	e.mu.Unlock()
}
func (e *recEmitter) Error(message string) {
	e.mu.Lock()
	e.errs = append(e.errs, message)
	e.mu.Unlock()
}

func (e *recEmitter) audioOut() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.audio...)
}

func triggeredPolicy(t *testing.T, text string) *turnpolicy.Policy {
	t.Helper()
	p := turnpolicy.New()
	d := p.Decide(transcript.Event{Text: text, Final: true, Endpoint: true, Confidence: 0.95})
	if !d.Trigger {
		t.Fatalf("setup: policy did not trigger")
	}
	return p
}

func TestRun_StreamsSentencesInOrder(t *testing.T) {
	sess := session.New("s1")
	em := &recEmitter{}
	sess.SetEmitter(em)

	// the first sentence synthesizes slower than the second; order must hold
	synth := &slowSynth{delays: map[string]time.Duration{
		"It is sunny today.": 40 * time.Millisecond,
	}}
	gen := &scriptedGen{chunks: []llm.Chunk{
		{Text: "It is "}, {Text: "sunny today."}, {Text: " Bring "}, {Text: "sunglasses!"},
	}}
	policy := triggeredPolicy(t, "what's the weather")

	ctrl := &Controller{Sess: sess, Gen: gen, Synth: synth, Policy: policy}
	ctrl.Run(session.NewTurn(context.Background(), "what's the weather"))

	audio := em.audioOut()
	if len(audio) != 2 || audio[0] != "It is sunny today." || audio[1] != "Bring sunglasses!" {
		t.Fatalf("audio order wrong: %v", audio)
	}
	if len(em.transcripts) != 1 || em.transcripts[0] != "what's the weather" {
		t.Fatalf("transcript echo missing: %v", em.transcripts)
	}

	hist := sess.History()
	if len(hist) != 2 {
		t.Fatalf("history: got %d entries", len(hist))
	}
	if hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Fatalf("history roles wrong: %+v", hist)
	}
	if hist[1].Content != "It is sunny today. Bring sunglasses!" {
		t.Fatalf("assistant text: %q", hist[1].Content)
	}

	// the turn released the policy lock (wait out the trigger cooldown)
	time.Sleep(600 * time.Millisecond)
	d := policy.Decide(transcript.Event{Text: "and tomorrow then", Final: true, Confidence: 0.95})
	if !d.Trigger {
		t.Fatalf("expected policy released after turn")
	}
}

func TestRun_FlushesUnterminatedRemainder(t *testing.T) {
	sess := session.New("s1")
	em := &recEmitter{}
	sess.SetEmitter(em)
	gen := &scriptedGen{chunks: []llm.Chunk{{Text: "Sure, one moment"}}}

	ctrl := &Controller{Sess: sess, Gen: gen, Synth: &slowSynth{}, Policy: triggeredPolicy(t, "hold on")}
	ctrl.Run(session.NewTurn(context.Background(), "hold on"))

	if audio := em.audioOut(); len(audio) != 1 || audio[0] != "Sure, one moment" {
		t.Fatalf("expected remainder voiced, got %v", audio)
	}
}

func TestRun_AbortedTurnKeepsLockAndHistoryClean(t *testing.T) {
	sess := session.New("s1")
	em := &recEmitter{}
	sess.SetEmitter(em)
	gen := &scriptedGen{chunks: []llm.Chunk{{Text: "You will never hear this."}}}

	policy := triggeredPolicy(t, "tell me a story")
	turn := session.NewTurn(context.Background(), "tell me a story")
	turn.Abort()

	ctrl := &Controller{Sess: sess, Gen: gen, Synth: &slowSynth{}, Policy: policy}
	ctrl.Run(turn)

	if audio := em.audioOut(); len(audio) != 0 {
		t.Fatalf("expected no audio from aborted turn, got %v", audio)
	}
	hist := sess.History()
	if len(hist) != 1 || hist[0].Role != "user" {
		t.Fatalf("expected only the user message recorded, got %+v", hist)
	}
	// an aborted turn must not release the lock: the interrupt decision
	// already reset policy state for the next turn. Wait out the cooldown
	// so the lock is the only thing suppressing.
	time.Sleep(600 * time.Millisecond)
	d := policy.Decide(transcript.Event{Text: "a completely new request", Final: true, Confidence: 0.95})
	if d.Trigger {
		t.Fatalf("expected policy lock untouched by aborted turn")
	}
	select {
	case <-turn.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected turn to finish unwinding")
	}
}

func TestRun_GenerationErrorSpeaksApology(t *testing.T) {
	sess := session.New("s1")
	em := &recEmitter{}
	sess.SetEmitter(em)
	gen := &scriptedGen{err: errors.New("provider down")}

	ctrl := &Controller{Sess: sess, Gen: gen, Synth: &slowSynth{}, Policy: triggeredPolicy(t, "hello there")}
	ctrl.Run(session.NewTurn(context.Background(), "hello there"))

	if len(em.errs) != 1 {
		t.Fatalf("expected one error event, got %v", em.errs)
	}
	if audio := em.audioOut(); len(audio) != 1 || audio[0] != errorReply {
		t.Fatalf("expected apology voiced, got %v", audio)
	}
	hist := sess.History()
	if len(hist) != 1 {
		t.Fatalf("failed turn must not record an assistant message: %+v", hist)
	}
}

func TestRun_ToolCallGoesThroughBridge(t *testing.T) {
	dispatched := make(chan map[string]any, 1)
	executor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		dispatched <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer executor.Close()

	registry := session.NewRegistry()
	sess := registry.Create("s1")
	em := &recEmitter{}
	sess.SetEmitter(em)
	bridge := action.NewBridge(registry, action.NewDispatcher(executor.URL), nil)

	gen := &scriptedGen{chunks: []llm.Chunk{
		{Text: "Let me take care of that"},
		{ToolCall: &llm.ToolCall{Name: "execute_action", Arguments: `{"action":"book_meeting","request":"book a meeting tomorrow at 3pm"}`}},
	}}

	ctrl := &Controller{Sess: sess, Gen: gen, Synth: &slowSynth{}, Bridge: bridge, Policy: triggeredPolicy(t, "book a meeting")}
	ctrl.Run(session.NewTurn(context.Background(), "book a meeting tomorrow at 3pm"))

	if sess.Pending() == nil {
		t.Fatalf("expected pending action recorded")
	}
	hist := sess.History()
	if len(hist) != 2 || hist[1].Role != "assistant" {
		t.Fatalf("expected user message plus acknowledgment, got %+v", hist)
	}
	if hist[1].Content == "Let me take care of that" {
		t.Fatalf("streamed pre-tool text must not be recorded as the reply")
	}

	select {
	case body := <-dispatched:
		if body["sessionId"] != "s1" || body["action"] != "book_meeting" {
			t.Fatalf("dispatch payload wrong: %v", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected webhook dispatch")
	}
}

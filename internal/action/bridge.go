package action

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/llm"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/session"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/store"
)

// ErrNoSession is returned when a callback cannot be correlated to any
// session.
var ErrNoSession = fmt.Errorf("no session matches callback")

// acknowledgments is the fixed rotation spoken when a task is delegated.
var acknowledgments = []string{
	"Okay, I'm on it. I'll let you know as soon as it's done.",
	"Sure, give me a moment while I take care of that.",
	"Working on it now. This might take a few seconds.",
	"Got it, let me handle that for you.",
}

const apologyReply = "Sorry, I couldn't start that task. Could you try asking again?"

// toolArgs is the expected argument shape of the delegated-action function.
type toolArgs struct {
	Action  string `json:"action"`
	Request string `json:"request"`
}

// CallbackResult is the out-of-band webhook result payload.
type CallbackResult struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Summary   string `json:"summary"`
}

// Bridge intercepts structured function calls from the reply stream, hands
// the work to the external executor, and correlates the later result back to
// the right session even across disconnects.
type Bridge struct {
	registry   *session.Registry
	dispatcher *Dispatcher
	archive    *store.Archive
	ackIndex   atomic.Uint32
}

func NewBridge(registry *session.Registry, dispatcher *Dispatcher, archive *store.Archive) *Bridge {
	return &Bridge{registry: registry, dispatcher: dispatcher, archive: archive}
}

func (b *Bridge) nextAck() string {
	i := b.ackIndex.Add(1) - 1
	return acknowledgments[int(i)%len(acknowledgments)]
}

// speak synthesizes text and emits it as a partial reply plus audio. Errors
// are logged; speech failure never fails the bridge operation.
func (b *Bridge) speak(ctx context.Context, sess *session.Session, text string) {
	em := sess.Emitter()
	if em == nil {
		return
	}
	em.ReplyText(text, true)
	if sess.Synth == nil {
		return
	}
	audio, err := sess.Synth.Synthesize(ctx, text)
	if err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("bridge: synthesis failed")
		return
	}
	if len(audio) > 0 {
		em.Audio(audio)
	}
}

// HandleToolCall processes a completed function-call payload detected in the
// reply stream. On success the session is listening again while the task
// runs in the background.
func (b *Bridge) HandleToolCall(ctx context.Context, sess *session.Session, call *llm.ToolCall) {
	var args toolArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || strings.TrimSpace(args.Request) == "" {
		// malformed arguments fail this one call only
		log.Warn().Err(err).Str("session", sess.ID).Str("args", call.Arguments).Msg("bridge: malformed tool call")
		b.speak(ctx, sess, apologyReply)
		return
	}

	sess.SetPending(&session.PendingAction{
		CorrelationID: sess.ID,
		Action:        args.Action,
		Request:       args.Request,
		CreatedAt:     time.Now(),
	})

	ack := b.nextAck()
	b.speak(ctx, sess, ack)
	sess.AppendHistory(llm.Message{Role: "assistant", Content: ack})
	b.archive.Append(ctx, sess.ID, llm.Message{Role: "assistant", Content: ack})

	log.Info().Str("session", sess.ID).Str("action", args.Action).Msg("bridge: dispatching delegated action")
	go func() {
		// detached from the turn: the dispatch outlives an aborted reply
		if err := b.dispatcher.Dispatch(context.Background(), sess.ID, args.Action, args.Request); err != nil {
			log.Error().Err(err).Str("session", sess.ID).Msg("bridge: dispatch failed")
		}
	}()
}

// Resolve finds the session for a callback: exact id first, then the
// fallback scan over sessions with a pending action. The fallback is only
// unambiguous for single-conversation deployments. Returns ErrNoSession
// when nothing matches.
func (b *Bridge) Resolve(id string) (*session.Session, error) {
	if s, ok := b.registry.Get(id); ok {
		return s, nil
	}
	if s := b.registry.FindPendingFallback(); s != nil {
		log.Info().Str("session", id).Str("matched", s.ID).Msg("bridge: callback matched by pending-action fallback")
		return s, nil
	}
	log.Warn().Str("session", id).Msg("bridge: callback with no matching session")
	return nil, ErrNoSession
}

// HandleCallback delivers an out-of-band executor result to a resolved
// session. A result arriving after the client disconnected clears the
// pending action silently.
func (b *Bridge) HandleCallback(ctx context.Context, sess *session.Session, res CallbackResult) {
	if !sess.Connected() {
		// the user left; drop the result, this is not an error
		log.Info().Str("session", sess.ID).Msg("bridge: client gone, dropping result")
		sess.ClearPending()
		return
	}

	raw := strings.TrimSpace(res.Summary)
	if raw == "" {
		raw = "The task finished with status: " + res.Status
	}
	note := fmt.Sprintf(
		"A background task you delegated has completed with status %q. Result: %s. "+
			"Tell the user about this result in one or two short sentences, speaking in the first person.",
		res.Status, raw)
	sess.AppendHistory(llm.Message{Role: "system", Content: note})

	reply := raw
	if sess.Gen != nil {
		if out, err := sess.Gen.Summarize(ctx, note); err != nil {
			log.Warn().Err(err).Str("session", sess.ID).Msg("bridge: summary failed, using raw result")
		} else if out != "" {
			reply = out
		}
	}

	sess.AppendHistory(llm.Message{Role: "assistant", Content: reply})
	b.archive.Append(ctx, sess.ID, llm.Message{Role: "assistant", Content: reply})
	b.speak(ctx, sess, reply)
	sess.ClearPending()
}

package pipeline

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/action"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/llm"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/segment"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/session"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/speech"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/store"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/tts"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/turnpolicy"
)

const errorReply = "Sorry, I ran into a problem. Could you say that again?"

// Controller owns the lifecycle of one generation-plus-speech turn for a
// session. The trigger policy's processing lock guarantees at most one
// Run is active per session at a time.
type Controller struct {
	Sess    *session.Session
	Gen     llm.Generator
	Synth   tts.Synthesizer
	Bridge  *action.Bridge
	Policy  *turnpolicy.Policy
	Archive *store.Archive
}

// Run executes one turn to completion or abort. It never returns before the
// dispatch queue is closed and its worker joined, so the policy unlock in
// its cleanup is the "prior turn fully unwound" point.
func (c *Controller) Run(turn *session.Turn) {
	sess := c.Sess
	ctx := turn.Context()
	sess.BeginTurn(turn)
	defer func() {
		sess.EndTurn(turn)
		// an aborted turn already had its lock reset by the interrupt
		// decision; releasing here would clobber the next turn's lock
		if !turn.Aborted() {
			c.Policy.Release()
		}
		turn.Finish()
	}()

	em := sess.Emitter()
	if em == nil {
		return
	}

	c.Policy.SetSpeaking(true)

	userMsg := llm.Message{Role: "user", Content: turn.TriggerText}
	sess.AppendHistory(userMsg)
	c.Archive.Append(ctx, sess.ID, userMsg)
	em.Transcript(turn.TriggerText)

	queue := speech.NewQueue(ctx, c.Synth, func(audio []byte) {
		if turn.Aborted() {
			return
		}
		em.Audio(audio)
	})

	chunks, errs := c.Gen.StreamReply(ctx, sess.History())

	seg := segment.New()
	var full strings.Builder
	var toolCall *llm.ToolCall

	emitSentence := func(raw string) {
		clean := segment.Clean(raw)
		if clean == "" {
			return
		}
		em.ReplyText(clean, true)
		queue.Push(clean)
	}

	for chunk := range chunks {
		if turn.Aborted() {
			break
		}
		if chunk.ToolCall != nil {
			toolCall = chunk.ToolCall
			continue
		}
		full.WriteString(chunk.Text)
		for _, sentence := range seg.AddChunk(chunk.Text) {
			emitSentence(sentence)
		}
	}

	var genErr error
	select {
	case genErr = <-errs:
	default:
	}

	if !turn.Aborted() {
		if genErr != nil {
			log.Error().Err(genErr).Str("session", sess.ID).Msg("turn: generation failed")
			em.Error("Failed to generate a response.")
			if full.Len() == 0 {
				emitSentence(errorReply)
			}
		} else {
			emitSentence(seg.Remainder())
		}
	}

	queue.Close()
	queue.Wait()

	if turn.Aborted() {
		log.Debug().Str("session", sess.ID).Msg("turn: aborted")
		return
	}
	if genErr != nil {
		return
	}

	if toolCall != nil {
		// the bridge appends its own acknowledgment; the streamed text is
		// intentionally not recorded
		c.Bridge.HandleToolCall(ctx, sess, toolCall)
		return
	}

	if text := strings.TrimSpace(full.String()); text != "" {
		reply := llm.Message{Role: "assistant", Content: text}
		sess.AppendHistory(reply)
		c.Archive.Append(ctx, sess.ID, reply)
	}
}

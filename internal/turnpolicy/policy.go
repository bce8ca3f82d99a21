package turnpolicy

import (
	"strings"
	"sync"
	"time"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/transcript"
)

const (
	// triggerCooldown suppresses rapid-fire duplicate triggers.
	triggerCooldown = 500 * time.Millisecond
	// interruptMinChars is the minimum length of new speech that counts as
	// barge-in while the assistant is speaking.
	interruptMinChars = 5
	// punctMinChars is the buffered-text length required for the early
	// punctuation trigger.
	punctMinChars = 15
	// endpointConfidence gates the provider speech-endpoint trigger.
	endpointConfidence = 0.85
	// punctConfidence gates the punctuation trigger.
	punctConfidence = 0.8
)

// Decision is the outcome of one transcript event.
type Decision struct {
	// Trigger means the buffered text is ready to generate a reply from.
	Trigger bool
	// Text is the utterance to process when Trigger is set.
	Text string
	// Interrupt means the active turn must be aborted (barge-in). The event
	// itself never triggers; the next qualifying event will.
	Interrupt bool
}

// Policy decides when enough user speech has arrived to warrant a reply. One
// instance per session; state is carried across events.
type Policy struct {
	mu            sync.Mutex
	buffer        string
	lastTrigger   string
	lastTriggerAt time.Time
	processing    bool
	speaking      bool
	now           func() time.Time
}

func New() *Policy {
	return &Policy{now: time.Now}
}

func endsInTerminalPunct(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// Decide applies the trigger rules, in order, to one event.
func (p *Policy) Decide(ev transcript.Event) Decision {
	p.mu.Lock()
	defer p.mu.Unlock()

	text := strings.TrimSpace(ev.Text)

	// 1. Barge-in: new speech while the assistant is speaking, unless it is
	// just the transcript of the utterance we already processed growing.
	if p.speaking && len(text) > interruptMinChars &&
		(p.lastTrigger == "" || !strings.HasPrefix(text, p.lastTrigger)) {
		p.speaking = false
		p.processing = false
		p.buffer = text
		p.lastTrigger = ""
		p.lastTriggerAt = time.Time{}
		return Decision{Interrupt: true}
	}

	// 2. A turn is in flight; hold everything until it unwinds.
	if p.processing {
		return Decision{}
	}

	p.buffer = text

	// 3. Anti-duplicate suppression.
	if text == "" || text == p.lastTrigger {
		return Decision{}
	}
	if !p.lastTriggerAt.IsZero() && p.now().Sub(p.lastTriggerAt) < triggerCooldown {
		return Decision{}
	}

	// 4. Fire conditions.
	fire := ev.Final ||
		(ev.Confidence > endpointConfidence && ev.Endpoint) ||
		(len(p.buffer) > punctMinChars && endsInTerminalPunct(p.buffer) && ev.Confidence > punctConfidence)
	if !fire {
		return Decision{}
	}

	// 5. Lock until the turn completes.
	p.processing = true
	p.lastTrigger = text
	p.lastTriggerAt = p.now()
	out := p.buffer
	p.buffer = ""
	return Decision{Trigger: true, Text: out}
}

// SetSpeaking toggles the barge-in window. The pipeline sets it for the
// lifetime of a spoken reply.
func (p *Policy) SetSpeaking(on bool) {
	p.mu.Lock()
	p.speaking = on
	p.mu.Unlock()
}

// Release unlocks processing after a turn has fully unwound.
func (p *Policy) Release() {
	p.mu.Lock()
	p.processing = false
	p.speaking = false
	p.mu.Unlock()
}

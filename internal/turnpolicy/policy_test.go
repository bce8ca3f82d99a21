package turnpolicy

import (
	"testing"
	"time"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/transcript"
)

func newTestPolicy(start time.Time) (*Policy, *time.Time) {
	clock := start
	p := New()
	p.now = func() time.Time { return clock }
	return p, &clock
}

func final(text string, conf float64) transcript.Event {
	return transcript.Event{Text: text, Final: true, Endpoint: true, Confidence: conf, At: time.Now()}
}

func partial(text string, conf float64) transcript.Event {
	return transcript.Event{Text: text, Confidence: conf, At: time.Now()}
}

func TestDecide_FinalTriggers(t *testing.T) {
	p, _ := newTestPolicy(time.Now())
	d := p.Decide(final("What's the weather", 0.9))
	if !d.Trigger {
		t.Fatalf("expected trigger on final event")
	}
	if d.Text != "What's the weather" {
		t.Fatalf("trigger text: got %q", d.Text)
	}
}

func TestDecide_EndpointConfidenceTriggers(t *testing.T) {
	p, _ := newTestPolicy(time.Now())
	d := p.Decide(transcript.Event{Text: "book a table", Endpoint: true, Confidence: 0.9})
	if !d.Trigger {
		t.Fatalf("expected trigger on high-confidence endpoint")
	}
	p2, _ := newTestPolicy(time.Now())
	d = p2.Decide(transcript.Event{Text: "book a table", Endpoint: true, Confidence: 0.7})
	if d.Trigger {
		t.Fatalf("expected no trigger below endpoint confidence")
	}
}

func TestDecide_PunctuationHeuristicTriggers(t *testing.T) {
	p, _ := newTestPolicy(time.Now())
	d := p.Decide(partial("please call me tomorrow.", 0.85))
	if !d.Trigger {
		t.Fatalf("expected trigger on long punctuated text")
	}
	// too short for the punctuation path
	p2, _ := newTestPolicy(time.Now())
	if d := p2.Decide(partial("hi there.", 0.85)); d.Trigger {
		t.Fatalf("expected no trigger on short text")
	}
}

// Two rapid identical final events must produce exactly one trigger.
func TestDecide_DuplicateFinalsSuppressed(t *testing.T) {
	p, clock := newTestPolicy(time.Now())
	first := p.Decide(final("turn off the lights", 0.95))
	if !first.Trigger {
		t.Fatalf("expected first trigger")
	}
	p.Release()
	*clock = clock.Add(100 * time.Millisecond)
	second := p.Decide(final("turn off the lights", 0.95))
	if second.Trigger {
		t.Fatalf("expected duplicate suppressed")
	}
}

func TestDecide_CooldownWindow(t *testing.T) {
	p, clock := newTestPolicy(time.Now())
	if d := p.Decide(final("first utterance", 0.95)); !d.Trigger {
		t.Fatalf("expected first trigger")
	}
	p.Release()
	*clock = clock.Add(200 * time.Millisecond)
	if d := p.Decide(final("second different text", 0.95)); d.Trigger {
		t.Fatalf("expected cooldown suppression within 500ms")
	}
	*clock = clock.Add(400 * time.Millisecond)
	if d := p.Decide(final("second different text", 0.95)); !d.Trigger {
		t.Fatalf("expected trigger after cooldown")
	}
}

func TestDecide_LockedWhileProcessing(t *testing.T) {
	p, clock := newTestPolicy(time.Now())
	if d := p.Decide(final("first utterance", 0.95)); !d.Trigger {
		t.Fatalf("expected trigger")
	}
	*clock = clock.Add(time.Second)
	if d := p.Decide(final("another complete sentence", 0.95)); d.Trigger {
		t.Fatalf("expected no trigger while processing")
	}
	p.Release()
	*clock = clock.Add(time.Second)
	if d := p.Decide(final("another complete sentence", 0.95)); !d.Trigger {
		t.Fatalf("expected trigger after release")
	}
}

func TestDecide_BargeInInterrupts(t *testing.T) {
	p, clock := newTestPolicy(time.Now())
	if d := p.Decide(final("what's on my calendar", 0.95)); !d.Trigger {
		t.Fatalf("expected trigger")
	}
	p.SetSpeaking(true)

	d := p.Decide(partial("wait stop", 0.6))
	if !d.Interrupt {
		t.Fatalf("expected interruption")
	}
	if d.Trigger {
		t.Fatalf("interruption event must not trigger")
	}

	// the interruption cleared cooldown and lock: the next qualifying
	// event triggers immediately
	*clock = clock.Add(10 * time.Millisecond)
	d = p.Decide(final("wait stop cancel that", 0.95))
	if !d.Trigger {
		t.Fatalf("expected trigger right after barge-in")
	}
}

func TestDecide_ShortNoiseDoesNotInterrupt(t *testing.T) {
	p, _ := newTestPolicy(time.Now())
	if d := p.Decide(final("what's on my calendar", 0.95)); !d.Trigger {
		t.Fatalf("expected trigger")
	}
	p.SetSpeaking(true)
	if d := p.Decide(partial("uh", 0.5)); d.Interrupt {
		t.Fatalf("expected short text ignored during speech")
	}
}

func TestDecide_PrefixExtensionDoesNotInterrupt(t *testing.T) {
	p, _ := newTestPolicy(time.Now())
	if d := p.Decide(final("what's the weather", 0.95)); !d.Trigger {
		t.Fatalf("expected trigger")
	}
	p.SetSpeaking(true)
	// the transcript of the processed utterance keeps growing; that is not
	// new speech
	if d := p.Decide(partial("what's the weather like today", 0.8)); d.Interrupt {
		t.Fatalf("expected prefix extension ignored")
	}
}

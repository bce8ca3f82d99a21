package speech

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/tts"
)

// queueDepth bounds pending sentences. A reply never produces anywhere near
// this many; overflow drops the sentence rather than blocking the producer.
const queueDepth = 64

// Queue is an ordered, closable hand-off between sentence production and
// speech synthesis. Exactly one synthesis call is in flight at a time, so
// audio is emitted strictly in submission order regardless of per-sentence
// synthesis latency.
type Queue struct {
	ctx       context.Context
	synth     tts.Synthesizer
	emit      func(audio []byte)
	items     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates the queue and starts its worker. The worker stops when
// ctx is cancelled (barge-in) or when the queue is closed and drained.
func NewQueue(ctx context.Context, synth tts.Synthesizer, emit func([]byte)) *Queue {
	q := &Queue{
		ctx:   ctx,
		synth: synth,
		emit:  emit,
		items: make(chan string, queueDepth),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues a sentence without blocking. The producer never waits for
// synthesis.
func (q *Queue) Push(text string) {
	if text == "" {
		return
	}
	select {
	case q.items <- text:
	default:
		log.Warn().Msg("speech: queue full, dropping sentence")
	}
}

// Close signals that no more sentences will arrive. Safe to call once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.items) })
}

// Wait blocks until the worker has stopped.
func (q *Queue) Wait() { <-q.done }

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			// aborted: remaining items are abandoned, not drained
			return
		case text, ok := <-q.items:
			if !ok {
				return
			}
			audio, err := q.synth.Synthesize(q.ctx, text)
			if err != nil {
				if q.ctx.Err() != nil {
					return
				}
				// one bad sentence is skipped, not fatal to the worker
				log.Warn().Err(err).Str("text", text).Msg("speech: synthesis failed, skipping")
				continue
			}
			// a synthesis already dispatched still completes; discard its
			// audio if the turn was aborted meanwhile
			if q.ctx.Err() != nil {
				return
			}
			if len(audio) > 0 && q.emit != nil {
				q.emit(audio)
			}
		}
	}
}

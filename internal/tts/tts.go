package tts

import "context"

// Synthesizer converts one sentence of text into audio bytes. The provider
// enforces a single-call-at-a-time ceiling upstream; callers serialize.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

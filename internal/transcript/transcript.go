package transcript

import "time"

// Event is one transcription hypothesis. Partials arrive continuously while
// the user speaks; Final marks the provider's formatted end-of-turn result,
// Endpoint marks the provider's speech-endpoint detection, and Confidence is
// the provider's end-of-turn confidence in [0,1].
type Event struct {
	Text       string
	Final      bool
	Endpoint   bool
	Confidence float64
	At         time.Time
}

// Transcriber is the minimal interface for realtime speech-to-text.
type Transcriber interface {
	Connect() error
	SendAudio(pcm []byte) error
	Events() <-chan Event
	Close() error
}

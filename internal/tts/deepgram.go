package tts

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog/log"
)

// DeepgramClient synthesizes speech over the Deepgram speak websocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model, sampleRate: 48000, encoding: "linear16"}
}

// Synthesize speaks one sentence and returns the collected PCM bytes. The
// stream is considered complete after a short idle window with no further
// audio, bounded by a hard deadline.
func (d *DeepgramClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key missing")
	}
	if text == "" {
		return nil, nil
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var (
		mu           sync.Mutex
		audio        bytes.Buffer
		lastRecvUnix int64
		seenAudio    int32
	)

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		mu.Lock()
		audio.Write(data)
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Warn().Err(err).Msg("deepgram: flush error")
	}

	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					mu.Lock()
					defer mu.Unlock()
					return audio.Bytes(), nil
				}
			}
			if time.Now().After(deadline) {
				mu.Lock()
				defer mu.Unlock()
				if audio.Len() == 0 {
					return nil, fmt.Errorf("deepgram: no audio before deadline")
				}
				return audio.Bytes(), nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}

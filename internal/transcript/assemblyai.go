package transcript

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// AssemblyAIService streams audio to the AssemblyAI v3 realtime endpoint and
// emits transcript events. It performs no endpointing of its own; the turn
// policy downstream decides when an utterance is complete.
type AssemblyAIService struct {
	apiKey    string
	conn      *websocket.Conn
	events    chan Event
	audioData chan []byte
	stopCh    chan struct{}
	mu        sync.RWMutex
	connected bool
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type                string  `json:"type"`
	Transcript          string  `json:"transcript"`
	TurnFormatted       bool    `json:"turn_is_formatted"`
	EndOfTurn           bool    `json:"end_of_turn"`
	EndOfTurnConfidence float64 `json:"end_of_turn_confidence"`
	AudioStartTime      int64   `json:"audio_start_time,omitempty"`
	AudioEndTime        int64   `json:"audio_end_time,omitempty"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAIService creates a new transcription service.
func NewAssemblyAIService(apiKey string) *AssemblyAIService {
	return &AssemblyAIService{
		apiKey:    apiKey,
		events:    make(chan Event, 100),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Events returns the channel of transcript events.
func (s *AssemblyAIService) Events() <-chan Event { return s.events }

// Connect establishes the WebSocket connection to AssemblyAI.
func (s *AssemblyAIService) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("assemblyai: api key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "true")
	params.Set("encoding", "pcm_s16le")

	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())
	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Error().Int("status", resp.StatusCode).Msg("assemblyai: connection failed")
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.handleMessages()
	go s.sendAudioData()

	log.Info().Msg("assemblyai: connected")
	return nil
}

// SendAudio queues PCM 16kHz LE mono audio for the provider. A full queue
// drops the packet rather than blocking the caller.
func (s *AssemblyAIService) SendAudio(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("assemblyai: not connected")
	}
	select {
	case s.audioData <- pcm:
		return nil
	default:
		log.Warn().Msg("assemblyai: audio buffer full, dropping packet")
		return nil
	}
}

// Close closes the connection and releases resources.
func (s *AssemblyAIService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	close(s.audioData)
	close(s.events)
	log.Info().Msg("assemblyai: connection closed")
	return nil
}

func (s *AssemblyAIService) handleMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("assemblyai: recovered in handleMessages")
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Msg("assemblyai: read ended")
				return
			}
			s.processMessage(message)
		}
	}
}

func (s *AssemblyAIService) processMessage(message []byte) {
	var baseMsg map[string]interface{}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Warn().Err(err).Msg("assemblyai: unmarshal message")
		return
	}
	msgType, ok := baseMsg["type"].(string)
	if !ok {
		return
	}
	switch msgType {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Info().Str("id", msg.ID).Time("expires", time.Unix(msg.ExpiresAt, 0)).Msg("assemblyai: session began")
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.Transcript == "" {
			return
		}
		ev := Event{
			Text:       msg.Transcript,
			Final:      msg.EndOfTurn && msg.TurnFormatted,
			Endpoint:   msg.EndOfTurn,
			Confidence: msg.EndOfTurnConfidence,
			At:         time.Now(),
		}
		select {
		case s.events <- ev:
		default:
			log.Warn().Msg("assemblyai: event buffer full, dropping")
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Info().Float64("audio_s", msg.AudioDurationSeconds).Msg("assemblyai: session terminated")
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Error().Str("error", msg.Error).Msg("assemblyai: provider error")
	}
}

func (s *AssemblyAIService) sendAudioData() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("assemblyai: recovered in sendAudioData")
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case audioData, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.BinaryMessage, audioData); err != nil {
					log.Error().Err(err).Msg("assemblyai: send audio")
					return
				}
			}
		}
	}
}

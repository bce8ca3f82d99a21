package ws

import (
	"encoding/base64"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// emitter serializes outbound writes to one websocket connection. gorilla
// permits a single concurrent writer, and the queue worker, the bridge and
// the read loop all emit.
type emitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	sid  string
}

func newEmitter(conn *websocket.Conn, sessionID string) *emitter {
	return &emitter{conn: conn, sid: sessionID}
}

func (e *emitter) send(ev serverEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.WriteJSON(ev); err != nil {
		log.Debug().Err(err).Str("session", e.sid).Str("type", ev.Type).Msg("ws: write failed")
	}
}

func (e *emitter) Status(text string) {
	e.send(serverEvent{Type: "status", Message: text})
}

func (e *emitter) ReplyText(text string, partial bool) {
	e.send(serverEvent{Type: "ai-response", Text: text, Partial: partial})
}

func (e *emitter) Transcript(text string) {
	e.send(serverEvent{Type: "transcript", Text: text})
}

func (e *emitter) Audio(audio []byte) {
	e.send(serverEvent{Type: "audio-response", Audio: base64.StdEncoding.EncodeToString(audio)})
}

func (e *emitter) Interrupted() {
	e.send(serverEvent{Type: "interrupted"})
}

func (e *emitter) Error(message string) {
	e.send(serverEvent{Type: "error", Message: message})
}

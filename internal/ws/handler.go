package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/action"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/config"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/llm"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/pipeline"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/session"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/store"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/transcript"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/tts"
	"github.com/yoloerTH/MCP-VOICE-AGENT/internal/turnpolicy"
)

// preBufferCap caps audio chunks buffered while the transcription connection
// is still establishing.
const preBufferCap = 20

const greeting = "Hi! I'm listening. How can I help you today?"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// browser demo; restrict in production deployments
		return true
	},
}

// Handler accepts realtime connections and runs one conversation per socket.
type Handler struct {
	cfg      config.Config
	registry *session.Registry
	bridge   *action.Bridge
	archive  *store.Archive
}

func NewHandler(cfg config.Config, registry *session.Registry, bridge *action.Bridge, archive *store.Archive) *Handler {
	return &Handler{cfg: cfg, registry: registry, bridge: bridge, archive: archive}
}

// conn is the per-connection state.
type conn struct {
	h      *Handler
	ws     *websocket.Conn
	sess   *session.Session
	em     session.Emitter
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	policy *turnpolicy.Policy
	ctrl   *pipeline.Controller
	tr     transcript.Transcriber

	// audio received before the transcriber is ready; bufMu also guards
	// sttReady because the connect goroutine flips it while the read loop
	// is delivering chunks
	bufMu     sync.Mutex
	preBuffer [][]byte
	sttReady  bool
	started   bool
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws: upgrade failed")
		return
	}

	id := uuid.NewString()
	sess := h.registry.Create(id)
	em := newEmitter(wsConn, id)
	sess.SetEmitter(em)

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		h:      h,
		ws:     wsConn,
		sess:   sess,
		em:     em,
		logger: log.With().Str("session", id).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.run()
}

func (c *conn) run() {
	defer c.close()
	c.em.Status("connected")
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("ws: read ended")
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var ev clientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("ws: bad client event")
			continue
		}
		switch ev.Type {
		case "start-call":
			c.handleStartCall()
		case "audio-chunk":
			c.handleAudioChunk(ev.Audio)
		case "end-call":
			c.handleEndCall()
		default:
			c.logger.Warn().Str("type", ev.Type).Msg("ws: unknown event")
		}
	}
}

// close tears the connection down: abort any live turn, stop transcription,
// and let the registry apply its retention rule.
func (c *conn) close() {
	if t := c.sess.ActiveTurn(); t != nil {
		t.Abort()
	}
	c.cancel()
	if c.tr != nil {
		_ = c.tr.Close()
	}
	_ = c.ws.Close()
	c.h.registry.HandleDisconnect(c.sess.ID)
}

// buildProviders constructs the per-session collaborators from config.
func (c *conn) buildProviders() (transcript.Transcriber, llm.Generator, tts.Synthesizer, error) {
	cfg := c.h.cfg

	tr := transcript.NewAssemblyAIService(cfg.AssemblyAIKey)

	var gen llm.Generator
	switch cfg.LLMProvider {
	case "gemini":
		g, err := llm.NewGeminiClient(c.ctx, cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, nil, err
		}
		gen = g
	default:
		gen = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIModel)
	}

	var synth tts.Synthesizer
	switch cfg.TTSProvider {
	case "elevenlabs":
		synth = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	default:
		synth = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramVoice)
	}

	return tr, gen, synth, nil
}

func (c *conn) handleStartCall() {
	if c.started {
		c.em.Status("call already active")
		return
	}
	if err := c.h.cfg.ValidateSession(); err != nil {
		// configuration errors are fatal for this session only, told once
		c.logger.Error().Err(err).Msg("ws: session init failed")
		c.em.Error(err.Error())
		return
	}

	tr, gen, synth, err := c.buildProviders()
	if err != nil {
		c.logger.Error().Err(err).Msg("ws: provider init failed")
		c.em.Error("Failed to initialize the assistant.")
		return
	}
	c.started = true
	c.tr = tr
	c.sess.Gen = gen
	c.sess.Synth = synth
	c.policy = turnpolicy.New()
	c.ctrl = &pipeline.Controller{
		Sess:    c.sess,
		Gen:     gen,
		Synth:   synth,
		Bridge:  c.h.bridge,
		Policy:  c.policy,
		Archive: c.h.archive,
	}
	c.sess.SetCallActive(true)
	c.em.Status("starting transcription")

	go func() {
		if err := tr.Connect(); err != nil {
			c.logger.Error().Err(err).Msg("ws: transcriber connect failed")
			c.em.Error("Speech recognition is unavailable right now.")
			return
		}
		c.flushPreBuffer()
		c.em.Status("listening")
		go c.consumeTranscripts()
		go c.speakGreeting()
	}()
}

func (c *conn) speakGreeting() {
	c.em.ReplyText(greeting, true)
	// the greeting was shown to the user either way; the model must see it
	// in history even when audio synthesis fails
	c.sess.AppendHistory(llm.Message{Role: "assistant", Content: greeting})
	audio, err := c.sess.Synth.Synthesize(c.ctx, greeting)
	if err != nil {
		c.logger.Warn().Err(err).Msg("ws: greeting synthesis failed")
		return
	}
	if len(audio) > 0 {
		c.em.Audio(audio)
	}
}

func (c *conn) handleAudioChunk(encoded string) {
	if encoded == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		c.logger.Warn().Err(err).Msg("ws: bad audio chunk encoding")
		return
	}
	c.sess.Touch()
	c.bufMu.Lock()
	if c.tr == nil || !c.sttReady {
		if len(c.preBuffer) < preBufferCap {
			c.preBuffer = append(c.preBuffer, pcm)
		}
		c.bufMu.Unlock()
		return
	}
	c.bufMu.Unlock()
	_ = c.tr.SendAudio(pcm)
}

// flushPreBuffer forwards chunks buffered during connect, in arrival order,
// then opens the direct path for subsequent chunks. The lock stays held
// across the sends: SendAudio never blocks, and releasing it earlier would
// let a chunk arriving on the read loop overtake the buffered ones.
func (c *conn) flushPreBuffer() {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	for _, pcm := range c.preBuffer {
		_ = c.tr.SendAudio(pcm)
	}
	c.preBuffer = nil
	c.sttReady = true
}

func (c *conn) handleEndCall() {
	if !c.started {
		return
	}
	if t := c.sess.ActiveTurn(); t != nil {
		t.Abort()
	}
	c.sess.SetCallActive(false)
	if c.tr != nil {
		_ = c.tr.Close()
		c.tr = nil
	}
	c.started = false
	c.bufMu.Lock()
	c.sttReady = false
	c.preBuffer = nil
	c.bufMu.Unlock()
	c.em.Status("call ended")
}

// consumeTranscripts feeds every transcript event through the trigger policy
// and reacts to its decision: barge-in aborts the live turn, a trigger
// starts the next one once the prior has fully unwound.
func (c *conn) consumeTranscripts() {
	for ev := range c.tr.Events() {
		decision := c.policy.Decide(ev)
		if decision.Interrupt {
			if t := c.sess.ActiveTurn(); t != nil {
				t.Abort()
			}
			c.em.Interrupted()
			c.logger.Info().Str("text", ev.Text).Msg("ws: barge-in")
			continue
		}
		if !decision.Trigger {
			continue
		}
		if prev := c.sess.ActiveTurn(); prev != nil {
			<-prev.Done()
		}
		turn := session.NewTurn(c.ctx, decision.Text)
		c.logger.Info().Str("text", decision.Text).Msg("ws: turn triggered")
		go c.ctrl.Run(turn)
	}
}

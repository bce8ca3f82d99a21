package ws

// clientEvent is an inbound message on the realtime channel.
// Types: "start-call", "audio-chunk", "end-call".
type clientEvent struct {
	Type string `json:"type"`
	// audio-chunk
	Audio string `json:"audio,omitempty"` // base64 PCM 16kHz LE mono
}

// serverEvent is an outbound message on the realtime channel.
// Types: "status", "ai-response", "transcript", "audio-response",
// "interrupted", "error".
type serverEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Partial bool   `json:"partial,omitempty"`
	Audio   string `json:"audio,omitempty"` // base64 synthesized audio
}

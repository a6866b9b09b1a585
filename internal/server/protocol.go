package server

// Client message types. Text frames carry one JSON object with a "type".
const (
	MsgStart    = "start"
	MsgEstimate = "estimate"
	MsgListen   = "listen"
	MsgEnd      = "end"
)

// Server message types.
const (
	MsgSession    = "session"
	MsgEvent      = "event"
	MsgStatus     = "status"
	MsgSessionEnd = "session_end"
	MsgError      = "error"
)

// Audio encodings accepted by the start message.
const (
	EncodingPCM16 = "pcm16"
	EncodingOpus  = "opus"
)

// ClientMessage is any control message sent by a client. Fields not used by
// a message type are ignored.
type ClientMessage struct {
	Type string `json:"type"`

	// Start only.
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	EstimateMS int    `json:"estimate_ms,omitempty"`
}

// SessionMessage acknowledges a start message.
type SessionMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	FrameMS    int    `json:"frame_ms"`
	SampleRate int    `json:"sample_rate"`
}

// EventMessage forwards an endpointer event.
type EventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Event     string `json:"event"`
	ElapsedMS int64  `json:"elapsed_ms"`
	SpeechMS  int64  `json:"speech_ms"`
}

// StatusMessage reports the session status and the last frame's energy.
type StatusMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Mode      string  `json:"mode"`
	ElapsedMS int64   `json:"elapsed_ms"`
	RMSDB     float64 `json:"rms_db"`
	NoiseDB   float64 `json:"noise_db"`
}

// SessionEndMessage is sent when a session ends, by request or
// automatically on completion.
type SessionEndMessage struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	Outcome      string `json:"outcome"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	SpeechMS     int64  `json:"speech_ms"`
	CompleteAtMS int64  `json:"complete_at_ms"`
}

// ErrorMessage reports a rejected client message. The connection stays
// open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by [ErrorMessage]. They double as the reason
// attribute on the protocol error metric.
const (
	CodeBadMessage  = "bad_message"
	CodeBadFormat   = "bad_format"
	CodeNoSession   = "no_session"
	CodeBadAudio    = "bad_audio"
	CodeUnknownType = "unknown_type"
)

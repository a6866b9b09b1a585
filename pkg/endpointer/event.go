package endpointer

import "time"

// Mode is the engine's session phase.
type Mode int

const (
	// ModeIdle means no session is running; audio is rejected.
	ModeIdle Mode = iota

	// ModeEstimatingEnvironment means audio calibrates the noise floor and
	// the completion policy does not run.
	ModeEstimatingEnvironment

	// ModeAwaitingSpeech means user input is expected but no speech segment
	// is open.
	ModeAwaitingSpeech

	// ModeActive means a speech segment is open.
	ModeActive
)

// String returns the snake_case name of m.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeEstimatingEnvironment:
		return "estimating_environment"
	case ModeAwaitingSpeech:
		return "awaiting_speech"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// EventType enumerates the edges the completion policy signals.
type EventType int

const (
	// EventSpeechStart fires when a new speech segment opens.
	EventSpeechStart EventType = iota

	// EventPossiblyComplete fires once per silence run when the short
	// trailing-silence timeout elapses.
	EventPossiblyComplete

	// EventComplete fires once per session when the utterance is complete.
	EventComplete

	// EventFalseStart fires when a segment shorter than the minimum speech
	// length is discarded after its silence timeout.
	EventFalseStart
)

// String returns the snake_case wire name of t.
func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventPossiblyComplete:
		return "possibly_complete"
	case EventComplete:
		return "complete"
	case EventFalseStart:
		return "false_start"
	default:
		return "unknown"
	}
}

// Event is a policy edge delivered to the [Observer].
type Event struct {
	Type EventType

	// Elapsed is the session audio time at which the event fired.
	Elapsed time.Duration

	// SpeechDuration is the span from first onset to the latest speech end.
	// Zero for EventSpeechStart.
	SpeechDuration time.Duration
}

// Observer receives events synchronously from ProcessAudio. It runs on the
// audio path and must not block.
type Observer func(Event)

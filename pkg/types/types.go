// Package types defines the status vocabulary shared by the frame classifiers,
// the endpointer and its transports.
//
// Two granularities are kept apart on purpose: [FrameStatus] is what a
// classifier says about one 20 ms frame, [EndpointStatus] is what the
// endpointer says about the whole input session.
package types

// FrameStatus is the raw classification of a single audio frame.
type FrameStatus int

const (
	// FrameSilence means the frame's energy is not distinguishable from the
	// background noise floor.
	FrameSilence FrameStatus = iota

	// FrameSpeech means the frame is likely part of user speech.
	FrameSpeech
)

// String returns "silence" or "speech".
func (s FrameStatus) String() string {
	switch s {
	case FrameSilence:
		return "silence"
	case FrameSpeech:
		return "speech"
	default:
		return "unknown"
	}
}

// EndpointStatus is the session-level state reported by the endpointer.
type EndpointStatus int

const (
	// StatusAwaitingSpeech means no speech segment is currently open.
	StatusAwaitingSpeech EndpointStatus = iota

	// StatusSpeechActive means a speech segment is open and the possibly
	// complete timeout has not yet elapsed.
	StatusSpeechActive

	// StatusPossiblyComplete means the short trailing-silence timeout has
	// elapsed after speech. Suitable for UI hinting only.
	StatusPossiblyComplete

	// StatusComplete means the speaker has finished. Terminal until the next
	// session starts.
	StatusComplete
)

// String returns the snake_case wire name of s.
func (s EndpointStatus) String() string {
	switch s {
	case StatusAwaitingSpeech:
		return "awaiting_speech"
	case StatusSpeechActive:
		return "speech_active"
	case StatusPossiblyComplete:
		return "possibly_complete"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

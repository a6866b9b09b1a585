// Package audio holds the PCM plumbing that sits between capture transports
// and the endpointer: little-endian int16 decoding, channel down-mixing and
// linear resampling to the endpointer's fixed sample rate.
package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a chunk of interleaved 16-bit PCM as it arrives from a capture
// source. Its length is arbitrary; the endpointer does its own framing.
type Frame struct {
	// Samples holds interleaved int16 samples, Channels per sample instant.
	Samples []int16

	// SampleRate in Hz (e.g. 48000 for Opus clients, 16000 for the endpointer).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f Frame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration returns the playback length of the frame. Zero when the format
// is unset.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	instants := len(f.Samples) / f.Channels
	return time.Duration(instants) * time.Second / time.Duration(f.SampleRate)
}

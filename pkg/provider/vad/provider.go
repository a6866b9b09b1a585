// Package vad defines the Classifier interface for frame-level speech
// detectors consumed by the endpointer.
//
// A Classifier turns one fixed-size frame of 16-bit mono PCM into a raw
// [types.FrameStatus] and the frame's RMS energy in dBFS, while maintaining an
// internal estimate of the background noise floor. The endpointer owns the
// temporal policy (when speech started, when it is complete); classifiers only
// answer "is this frame speech?".
//
// ProcessFrame is synchronous: it must return immediately and
// must not allocate, so that it can run inside an audio capture callback.
//
// A Classifier is not safe for concurrent use. Engines are: multiple goroutines
// may call NewClassifier simultaneously to create independent classifiers.
package vad

import (
	"errors"
	"fmt"

	"github.com/hugochiquito/clementine/pkg/types"
)

// FloorDB is the lowest energy a classifier reports, used for digital silence
// and as the initial "no frame seen yet" value.
const FloorDB = -100.0

// ErrInvalidConfig is wrapped by every [Config.Validate] failure.
var ErrInvalidConfig = errors.New("vad: invalid config")

// Config holds the parameters for a classifier.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds. The
	// endpointer always uses 20.
	FrameSizeMs int
}

// FrameSize returns the number of samples per frame.
func (c Config) FrameSize() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// Validate reports whether c describes a usable frame geometry.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d must be positive", ErrInvalidConfig, c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("%w: frame size %dms must be positive", ErrInvalidConfig, c.FrameSizeMs)
	}
	if c.FrameSize() == 0 {
		return fmt.Errorf("%w: %dms at %dHz yields an empty frame", ErrInvalidConfig, c.FrameSizeMs, c.SampleRate)
	}
	return nil
}

// Classifier is a stateful per-frame speech detector for a single stream. It is
// an interface so that test code can supply scripted implementations.
type Classifier interface {
	// ProcessFrame classifies one frame and updates the noise-floor estimate.
	// It returns the raw status and the frame's RMS energy in dBFS. While
	// estimating the environment the status is always FrameSilence.
	ProcessFrame(frame []int16) (types.FrameStatus, float64)

	// SetEstimatingEnvironment toggles noise-floor calibration. While on,
	// frames feed the noise estimate instead of being classified.
	SetEstimatingEnvironment(on bool)

	// EstimatingEnvironment reports whether calibration is active.
	EstimatingEnvironment() bool

	// NoiseLevelDB returns the current background noise estimate in dBFS.
	NoiseLevelDB() float64

	// Reset clears per-utterance detection state (hysteresis counters). The
	// calibrated noise floor is kept.
	Reset()
}

// Engine is the factory for classifiers. It is the top-level interface
// implemented by each detector backend.
type Engine interface {
	// NewClassifier creates a classifier for frames described by cfg. Returns
	// an error wrapping [ErrInvalidConfig] if cfg is unusable.
	NewClassifier(cfg Config) (Classifier, error)
}

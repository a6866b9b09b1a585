// Package mock provides test doubles for the vad package interfaces.
//
// Use Classifier to script the raw status of each frame and to inspect how
// the endpointer drove it. Use Engine to verify that classifiers are created
// with the expected Config.
//
// Example:
//
//	cls := &mock.Classifier{}
//	cls.Push(types.FrameSpeech, 50) // 50 speech frames
//	cls.Push(types.FrameSilence, 25)
//	ep, _ := endpointer.New(16000, cls)
package mock

import (
	"sync"

	"github.com/hugochiquito/clementine/pkg/provider/vad"
	"github.com/hugochiquito/clementine/pkg/types"
)

// Step is a scripted run of identical classifications.
type Step struct {
	Status types.FrameStatus
	RMSDB  float64
	Frames int
}

// Classifier is a mock implementation of vad.Classifier. Frames are classified
// by consuming Script in order; once the script is exhausted every frame
// returns Default.
type Classifier struct {
	mu sync.Mutex

	// Script is consumed one frame at a time.
	Script []Step

	// Default is returned once Script is exhausted.
	Default types.FrameStatus

	// DefaultRMSDB is the energy reported with Default.
	DefaultRMSDB float64

	// NoiseDB is returned by NoiseLevelDB.
	NoiseDB float64

	// --- Call records ---

	// FrameSizes records len(frame) of every ProcessFrame call in order.
	FrameSizes []int

	// EstimatingFrames counts frames received while estimating.
	EstimatingFrames int

	// EstimateToggles records every SetEstimatingEnvironment argument.
	EstimateToggles []bool

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	estimating bool
}

// Push appends a run of n frames with the given status. Speech frames
// report -20 dBFS and silence frames -70 dBFS.
func (c *Classifier) Push(status types.FrameStatus, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rms := -70.0
	if status == types.FrameSpeech {
		rms = -20.0
	}
	c.Script = append(c.Script, Step{Status: status, RMSDB: rms, Frames: n})
}

// ProcessFrame records the call and returns the next scripted status.
// Estimating frames do not consume the script.
func (c *Classifier) ProcessFrame(frame []int16) (types.FrameStatus, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FrameSizes = append(c.FrameSizes, len(frame))
	if c.estimating {
		c.EstimatingFrames++
		return types.FrameSilence, c.NoiseDB
	}
	for len(c.Script) > 0 && c.Script[0].Frames <= 0 {
		c.Script = c.Script[1:]
	}
	if len(c.Script) == 0 {
		return c.Default, c.DefaultRMSDB
	}
	step := &c.Script[0]
	step.Frames--
	return step.Status, step.RMSDB
}

// SetEstimatingEnvironment records the toggle.
func (c *Classifier) SetEstimatingEnvironment(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.estimating = on
	c.EstimateToggles = append(c.EstimateToggles, on)
}

// EstimatingEnvironment reports the last toggle.
func (c *Classifier) EstimatingEnvironment() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimating
}

// NoiseLevelDB returns NoiseDB.
func (c *Classifier) NoiseLevelDB() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.NoiseDB
}

// Reset records the call by incrementing ResetCallCount. The script is kept.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetCallCount++
}

// FrameCount returns the number of ProcessFrame calls so far. Thread-safe.
func (c *Classifier) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.FrameSizes)
}

// Toggles returns a copy of EstimateToggles. Thread-safe.
func (c *Classifier) Toggles() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.EstimateToggles...)
}

// EstimatedFrames returns EstimatingFrames. Thread-safe.
func (c *Classifier) EstimatedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.EstimatingFrames
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)

// NewClassifierCall records a single invocation of Engine.NewClassifier.
type NewClassifierCall struct {
	// Cfg is the Config passed to NewClassifier.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, NewClassifier returns
	// a new default Classifier.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned as the error from NewClassifier.
	NewClassifierErr error

	// NewClassifierCalls records every call to NewClassifier in order.
	NewClassifierCalls []NewClassifierCall
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewClassifierCalls = append(e.NewClassifierCalls, NewClassifierCall{Cfg: cfg})
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

// Calls returns a copy of NewClassifierCalls.
func (e *Engine) Calls() []NewClassifierCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]NewClassifierCall(nil), e.NewClassifierCalls...)
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

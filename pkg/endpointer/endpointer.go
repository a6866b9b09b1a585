// Package endpointer decides, from a live audio stream, when a speaker has
// finished talking.
//
// An [Endpointer] sits above a frame-level [vad.Classifier]. It cuts incoming
// audio into 20 ms frames, asks the classifier whether each frame is speech,
// keeps session time, and runs a piecewise silence-duration policy that raises
// two signals:
//
//   - possibly complete: a short trailing silence after speech, for low
//     latency UI feedback;
//   - complete: a longer trailing silence that ends the input session. The
//     required silence can grow once the utterance passes a configured length,
//     so that pauses inside dictation are not mistaken for the end.
//
// Typical use from a capture callback:
//
//	ep, _ := endpointer.New(16000, classifier)
//	ep.StartSession()
//	_ = ep.SetEnvironmentEstimationMode()
//	// ... feed a few hundred ms of background audio ...
//	_ = ep.SetUserInputMode()
//	for chunk := range capture {
//	    if _, _, err := ep.ProcessAudio(chunk); err != nil { ... }
//	    if ep.SpeechInputComplete() { break }
//	}
//	ep.EndSession()
//
// An Endpointer is not safe for concurrent use. Every call on the audio path
// does a bounded amount of work per frame, takes no locks and performs no
// allocation beyond the buffers sized at construction.
package endpointer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hugochiquito/clementine/pkg/audio"
	"github.com/hugochiquito/clementine/pkg/provider/vad"
	"github.com/hugochiquito/clementine/pkg/types"
)

// FrameRate is the number of frames per second; frames are 20 ms long at
// every sample rate.
const FrameRate = 50

// Unset marks a speech timestamp that has not been observed.
const Unset time.Duration = -1

var (
	// ErrNoSession is returned when audio or a mode change arrives while no
	// session is running.
	ErrNoSession = errors.New("endpointer: no active session")

	// ErrOddPCM is returned by ProcessPCM for a byte count that is not a
	// whole number of 16-bit samples.
	ErrOddPCM = errors.New("endpointer: odd PCM byte count")

	// ErrInvalidSampleRate is returned by New for rates that do not divide
	// into whole 20 ms frames.
	ErrInvalidSampleRate = errors.New("endpointer: invalid sample rate")
)

// Option configures an [Endpointer].
type Option func(*Endpointer)

// WithConfig sets the initial policy. It is validated by [New].
func WithConfig(cfg Config) Option {
	return func(e *Endpointer) { e.cfg = cfg }
}

// WithLogger sets the logger for session transitions. Logging on the audio
// path happens at debug level only.
func WithLogger(l *slog.Logger) Option {
	return func(e *Endpointer) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a callback for policy events.
func WithObserver(o Observer) Option {
	return func(e *Endpointer) { e.observer = o }
}

// Endpointer is the session-level endpoint policy engine.
type Endpointer struct {
	cfg        Config
	classifier vad.Classifier
	logger     *slog.Logger
	observer   Observer

	sampleRate    int
	frameSize     int
	frameDuration time.Duration

	// carry holds a trailing partial frame between ProcessAudio calls.
	carry []int16
	// scratch receives decoded PCM in ProcessPCM.
	scratch []int16

	st session
}

// session is reset by StartSession.
type session struct {
	mode Mode

	speechStart time.Duration
	speechEnd   time.Duration
	elapsed     time.Duration
	frames      int64

	speechEverDetected      bool
	possiblyCompletePending bool
	completePending         bool
	possiblyCompleteRaised  bool
	complete                bool

	firstPossiblyCompleteAt time.Duration
	completeAt              time.Duration
	falseStarts             int

	lastStatus types.FrameStatus
	lastRMSDB  float64
}

// New creates an Endpointer for audio at sampleRate Hz, classified by c.
// The frame size is sampleRate/50 samples and stays fixed for the lifetime of
// the instance.
func New(sampleRate int, c vad.Classifier, opts ...Option) (*Endpointer, error) {
	if !ValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("%w: %d Hz is not a multiple of %d", ErrInvalidSampleRate, sampleRate, FrameRate)
	}
	if c == nil {
		return nil, errors.New("endpointer: nil classifier")
	}
	frameSize := sampleRate / FrameRate
	e := &Endpointer{
		cfg:           DefaultConfig(),
		classifier:    c,
		logger:        slog.Default(),
		sampleRate:    sampleRate,
		frameSize:     frameSize,
		frameDuration: time.Duration(frameSize) * time.Second / time.Duration(sampleRate),
		carry:         make([]int16, 0, frameSize),
		scratch:       make([]int16, 0, frameSize),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	e.reset()
	e.st.mode = ModeIdle
	return e, nil
}

// ValidSampleRate reports whether rate yields exact 20 ms frames. 11025 Hz,
// for one, does not.
func ValidSampleRate(rate int) bool {
	return rate >= FrameRate && rate%FrameRate == 0
}

// ClassifierConfig returns the frame geometry classifiers for an Endpointer at
// sampleRate must accept.
func ClassifierConfig(sampleRate int) vad.Config {
	return vad.Config{SampleRate: sampleRate, FrameSizeMs: 1000 / FrameRate}
}

func (e *Endpointer) reset() {
	e.st = session{
		mode:                    ModeAwaitingSpeech,
		speechStart:             Unset,
		speechEnd:               Unset,
		firstPossiblyCompleteAt: Unset,
		completeAt:              Unset,
		lastStatus:              types.FrameSilence,
		lastRMSDB:               vad.FloorDB,
	}
	e.carry = e.carry[:0]
}

// StartSession resets all session state, independent of how the previous
// session ended, and starts awaiting speech. Must be called before the first
// audio of every session.
func (e *Endpointer) StartSession() {
	e.reset()
	e.classifier.SetEstimatingEnvironment(false)
	e.classifier.Reset()
	if e.debug() {
		e.logger.LogAttrs(context.Background(), slog.LevelDebug, "endpointer: session started",
			slog.Int("sample_rate", e.sampleRate),
			slog.Int("frame_size", e.frameSize),
		)
	}
}

// EndSession stops the session. Result flags stay readable until the next
// StartSession; further audio is rejected with [ErrNoSession].
func (e *Endpointer) EndSession() {
	if e.st.mode == ModeIdle {
		return
	}
	if e.st.mode == ModeEstimatingEnvironment {
		e.classifier.SetEstimatingEnvironment(false)
	}
	e.st.mode = ModeIdle
	e.carry = e.carry[:0]
	if e.debug() {
		e.logger.LogAttrs(context.Background(), slog.LevelDebug, "endpointer: session ended",
			slog.Duration("elapsed", e.st.elapsed),
			slog.Bool("complete", e.st.complete),
		)
	}
}

// SetEnvironmentEstimationMode routes subsequent audio to noise-floor
// calibration. The completion policy does not run in this mode.
func (e *Endpointer) SetEnvironmentEstimationMode() error {
	if e.st.mode == ModeIdle {
		return ErrNoSession
	}
	e.st.mode = ModeEstimatingEnvironment
	e.classifier.SetEstimatingEnvironment(true)
	return nil
}

// SetUserInputMode ends environment estimation; subsequent frames are
// classified and subject to the completion policy.
func (e *Endpointer) SetUserInputMode() error {
	if e.st.mode == ModeIdle {
		return ErrNoSession
	}
	e.classifier.SetEstimatingEnvironment(false)
	if e.st.speechStart != Unset {
		e.st.mode = ModeActive
	} else {
		e.st.mode = ModeAwaitingSpeech
	}
	return nil
}

// ProcessAudio feeds mono samples at the Endpointer's sample rate. Samples are
// cut into whole frames; a trailing partial frame is kept and completed by the
// next call. It returns the raw status and RMS energy of the last classified
// frame, or the previous call's values if no frame completed.
func (e *Endpointer) ProcessAudio(samples []int16) (types.FrameStatus, float64, error) {
	if e.st.mode == ModeIdle {
		return e.st.lastStatus, e.st.lastRMSDB, ErrNoSession
	}

	if n := len(e.carry); n > 0 {
		k := copy(e.carry[n:e.frameSize], samples)
		e.carry = e.carry[:n+k]
		samples = samples[k:]
		if len(e.carry) < e.frameSize {
			return e.st.lastStatus, e.st.lastRMSDB, nil
		}
		e.processFrame(e.carry)
		e.carry = e.carry[:0]
	}

	for len(samples) >= e.frameSize {
		e.processFrame(samples[:e.frameSize])
		samples = samples[e.frameSize:]
	}
	e.carry = append(e.carry, samples...)

	return e.st.lastStatus, e.st.lastRMSDB, nil
}

// ProcessPCM is ProcessAudio for 16-bit little-endian mono PCM bytes.
func (e *Endpointer) ProcessPCM(pcm []byte) (types.FrameStatus, float64, error) {
	if len(pcm)%2 != 0 {
		return e.st.lastStatus, e.st.lastRMSDB, fmt.Errorf("%w: %d bytes", ErrOddPCM, len(pcm))
	}
	if e.st.mode == ModeIdle {
		return e.st.lastStatus, e.st.lastRMSDB, ErrNoSession
	}
	for len(pcm) > 0 {
		n := min(len(pcm)/2, e.frameSize)
		e.scratch = audio.DecodePCM16(e.scratch[:0], pcm[:n*2])
		pcm = pcm[n*2:]
		if _, _, err := e.ProcessAudio(e.scratch); err != nil {
			return e.st.lastStatus, e.st.lastRMSDB, err
		}
	}
	return e.st.lastStatus, e.st.lastRMSDB, nil
}

func (e *Endpointer) processFrame(frame []int16) {
	status, rms := e.classifier.ProcessFrame(frame)
	e.st.elapsed += e.frameDuration
	e.st.frames++
	e.st.lastStatus = status
	e.st.lastRMSDB = rms

	if e.st.mode == ModeEstimatingEnvironment || e.st.complete {
		return
	}
	e.evaluate(status)
}

func (e *Endpointer) emit(ev Event) {
	if e.debug() {
		e.logger.LogAttrs(context.Background(), slog.LevelDebug, "endpointer: event",
			slog.String("event", ev.Type.String()),
			slog.Duration("elapsed", ev.Elapsed),
			slog.Duration("speech", ev.SpeechDuration),
		)
	}
	if e.observer != nil {
		e.observer(ev)
	}
}

// debug reports whether debug records would be handled. Attributes are only
// built behind it so the audio path stays allocation free.
func (e *Endpointer) debug() bool {
	return e.logger.Enabled(context.Background(), slog.LevelDebug)
}

// Status returns the session-level status and the audio time fed so far.
func (e *Endpointer) Status() (types.EndpointStatus, time.Duration) {
	switch {
	case e.st.complete:
		return types.StatusComplete, e.st.elapsed
	case e.st.possiblyCompleteRaised:
		return types.StatusPossiblyComplete, e.st.elapsed
	case e.st.speechStart != Unset:
		return types.StatusSpeechActive, e.st.elapsed
	default:
		return types.StatusAwaitingSpeech, e.st.elapsed
	}
}

// DidStartReceivingSpeech reports whether any frame of the session was
// classified as speech.
func (e *Endpointer) DidStartReceivingSpeech() bool { return e.st.speechEverDetected }

// IsEstimatingEnvironment reports whether the session is calibrating.
func (e *Endpointer) IsEstimatingEnvironment() bool {
	return e.st.mode == ModeEstimatingEnvironment
}

// SpeechInputComplete reports whether the complete event has fired.
func (e *Endpointer) SpeechInputComplete() bool { return e.st.complete }

// SpeechInputPossiblyComplete reports whether the possibly-complete event
// has fired in the current silence run.
func (e *Endpointer) SpeechInputPossiblyComplete() bool { return e.st.possiblyCompleteRaised }

// NoiseLevelDB returns the classifier's background noise estimate in dBFS.
func (e *Endpointer) NoiseLevelDB() float64 { return e.classifier.NoiseLevelDB() }

// Mode returns the current session phase.
func (e *Endpointer) Mode() Mode { return e.st.mode }

// Elapsed returns the audio time fed to the session so far.
func (e *Endpointer) Elapsed() time.Duration { return e.st.elapsed }

// SampleRate returns the sample rate fixed at construction.
func (e *Endpointer) SampleRate() int { return e.sampleRate }

// FrameSize returns the number of samples per frame.
func (e *Endpointer) FrameSize() int { return e.frameSize }

// FrameDuration returns the audio time covered by one frame.
func (e *Endpointer) FrameDuration() time.Duration { return e.frameDuration }

// Snapshot is a copy of session bookkeeping, for logging and diagnostics.
// Timestamps are [Unset] when not observed.
type Snapshot struct {
	Mode                    Mode
	Status                  types.EndpointStatus
	Elapsed                 time.Duration
	Frames                  int64
	SpeechDetected          bool
	SpeechStart             time.Duration
	SpeechEnd               time.Duration
	FirstPossiblyCompleteAt time.Duration
	CompleteAt              time.Duration
	FalseStarts             int
	NoiseLevelDB            float64
}

// Snapshot returns the current session bookkeeping.
func (e *Endpointer) Snapshot() Snapshot {
	status, _ := e.Status()
	return Snapshot{
		Mode:                    e.st.mode,
		Status:                  status,
		Elapsed:                 e.st.elapsed,
		Frames:                  e.st.frames,
		SpeechDetected:          e.st.speechEverDetected,
		SpeechStart:             e.st.speechStart,
		SpeechEnd:               e.st.speechEnd,
		FirstPossiblyCompleteAt: e.st.firstPossiblyCompleteAt,
		CompleteAt:              e.st.completeAt,
		FalseStarts:             e.st.falseStarts,
		NoiseLevelDB:            e.classifier.NoiseLevelDB(),
	}
}

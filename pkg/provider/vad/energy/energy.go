// Package energy implements a pure-Go frame classifier that compares each
// frame's RMS energy against an adaptive background noise floor.
//
// The noise floor is calibrated in environment-estimation mode and then
// tracked slowly during silence, so that a fan switching on does not register
// as endless speech. Hysteresis (separate onset and offset margins plus a
// short hangover) keeps the status from flickering on word boundaries.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/hugochiquito/clementine/pkg/provider/vad"
	"github.com/hugochiquito/clementine/pkg/types"
)

// Options tunes the classifier. Use [DefaultOptions] as a starting point.
type Options struct {
	// OnsetMarginDB is how far above the noise floor a frame must be to start
	// speech.
	OnsetMarginDB float64 `yaml:"onset_margin_db"`

	// OffsetMarginDB is the margin below which a frame counts as quiet while
	// in speech. Must not exceed OnsetMarginDB.
	OffsetMarginDB float64 `yaml:"offset_margin_db"`

	// HangoverFrames is the number of consecutive quiet frames that end
	// speech.
	HangoverFrames int `yaml:"hangover_frames"`

	// InitialNoiseDB seeds the noise floor before any calibration.
	InitialNoiseDB float64 `yaml:"initial_noise_db"`

	// MinNoiseDB bounds the noise floor from below so that digital silence
	// does not make the classifier hair-triggered.
	MinNoiseDB float64 `yaml:"min_noise_db"`

	// EstimateRate is the smoothing factor (0, 1] used during environment
	// estimation and when the level drops below the floor.
	EstimateRate float64 `yaml:"estimate_rate"`

	// TrackRate is the smoothing factor (0, 1] used to follow a rising floor
	// during silence in user-input mode.
	TrackRate float64 `yaml:"track_rate"`
}

// DefaultOptions returns options suited to close-talk microphones.
func DefaultOptions() Options {
	return Options{
		OnsetMarginDB:  9,
		OffsetMarginDB: 6,
		HangoverFrames: 3,
		InitialNoiseDB: -60,
		MinNoiseDB:     -90,
		EstimateRate:   0.3,
		TrackRate:      0.02,
	}
}

// Validate reports all problems with o joined together.
func (o Options) Validate() error {
	var errs []error
	if o.OnsetMarginDB <= 0 {
		errs = append(errs, fmt.Errorf("onset margin %.1f dB must be positive", o.OnsetMarginDB))
	}
	if o.OffsetMarginDB <= 0 || o.OffsetMarginDB > o.OnsetMarginDB {
		errs = append(errs, fmt.Errorf("offset margin %.1f dB must be in (0, onset margin]", o.OffsetMarginDB))
	}
	if o.HangoverFrames < 0 {
		errs = append(errs, fmt.Errorf("hangover %d frames must not be negative", o.HangoverFrames))
	}
	if o.MinNoiseDB < vad.FloorDB {
		errs = append(errs, fmt.Errorf("min noise %.1f dB is below %.0f dB", o.MinNoiseDB, vad.FloorDB))
	}
	if o.EstimateRate <= 0 || o.EstimateRate > 1 {
		errs = append(errs, fmt.Errorf("estimate rate %.3f must be in (0, 1]", o.EstimateRate))
	}
	if o.TrackRate <= 0 || o.TrackRate > 1 {
		errs = append(errs, fmt.Errorf("track rate %.3f must be in (0, 1]", o.TrackRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", vad.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Classifier is an energy-threshold [vad.Classifier]. Not safe for concurrent
// use.
type Classifier struct {
	opts      Options
	frameSize int

	noiseDB    float64
	estimating bool
	calibrated bool
	inSpeech   bool
	quiet      int
}

var _ vad.Classifier = (*Classifier)(nil)

// New returns a classifier for frames described by cfg.
func New(cfg vad.Config, opts Options) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		opts:      opts,
		frameSize: cfg.FrameSize(),
		noiseDB:   max(opts.InitialNoiseDB, opts.MinNoiseDB),
	}, nil
}

// ProcessFrame implements [vad.Classifier].
func (c *Classifier) ProcessFrame(frame []int16) (types.FrameStatus, float64) {
	level := RMSDB(frame)

	if c.estimating {
		if !c.calibrated {
			c.noiseDB = level
			c.calibrated = true
		} else {
			c.noiseDB += c.opts.EstimateRate * (level - c.noiseDB)
		}
		c.noiseDB = max(c.noiseDB, c.opts.MinNoiseDB)
		return types.FrameSilence, level
	}

	if c.inSpeech {
		if level < c.noiseDB+c.opts.OffsetMarginDB {
			c.quiet++
			if c.quiet >= c.opts.HangoverFrames {
				c.inSpeech = false
				c.quiet = 0
			}
		} else {
			c.quiet = 0
		}
	} else if level >= c.noiseDB+c.opts.OnsetMarginDB {
		c.inSpeech = true
		c.quiet = 0
	}

	if !c.inSpeech {
		rate := c.opts.TrackRate
		if level < c.noiseDB {
			rate = c.opts.EstimateRate
		}
		c.noiseDB = max(c.noiseDB+rate*(level-c.noiseDB), c.opts.MinNoiseDB)
		return types.FrameSilence, level
	}
	return types.FrameSpeech, level
}

// SetEstimatingEnvironment implements [vad.Classifier]. Turning estimation on
// restarts calibration from the next frame.
func (c *Classifier) SetEstimatingEnvironment(on bool) {
	if on && !c.estimating {
		c.calibrated = false
		c.inSpeech = false
		c.quiet = 0
	}
	c.estimating = on
}

// EstimatingEnvironment implements [vad.Classifier].
func (c *Classifier) EstimatingEnvironment() bool { return c.estimating }

// NoiseLevelDB implements [vad.Classifier].
func (c *Classifier) NoiseLevelDB() float64 { return c.noiseDB }

// Reset implements [vad.Classifier]. The noise floor survives.
func (c *Classifier) Reset() {
	c.inSpeech = false
	c.quiet = 0
}

// FrameSize returns the number of samples per frame this classifier expects.
func (c *Classifier) FrameSize() int { return c.frameSize }

// Engine creates energy classifiers sharing one set of options.
type Engine struct {
	Options Options
}

var _ vad.Engine = (*Engine)(nil)

// NewEngine returns an Engine using opts for every classifier.
func NewEngine(opts Options) *Engine {
	return &Engine{Options: opts}
}

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	return New(cfg, e.Options)
}

// RMSDB returns the RMS level of frame in dBFS, clamped at [vad.FloorDB].
func RMSDB(frame []int16) float64 {
	if len(frame) == 0 {
		return vad.FloorDB
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms < 1e-10 {
		return vad.FloorDB
	}
	return max(20*math.Log10(rms), vad.FloorDB)
}

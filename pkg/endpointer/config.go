package endpointer

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("endpointer: invalid config")

// Config holds the silence-duration policy. The completion timeout is a
// piecewise constant function of speech length: CompleteSilenceLength until
// LongSpeechLength, then LongSpeechCompleteSilenceLength.
type Config struct {
	// MinimumSpeechLength is the shortest speech segment that may ever be
	// declared complete. Shorter segments followed by a full silence timeout
	// are discarded as false starts.
	MinimumSpeechLength time.Duration `yaml:"minimum_speech_length"`

	// PossiblyCompleteSilenceLength is the trailing silence after speech that
	// raises the early possibly-complete signal. Set it above the complete
	// silence length to disable it: the policy stops once complete fires.
	PossiblyCompleteSilenceLength time.Duration `yaml:"possibly_complete_silence_length"`

	// CompleteSilenceLength is the trailing silence that completes an
	// utterance shorter than LongSpeechLength.
	CompleteSilenceLength time.Duration `yaml:"complete_silence_length"`

	// LongSpeechCompleteSilenceLength replaces CompleteSilenceLength once
	// speech has lasted LongSpeechLength. Zero disables the switch.
	LongSpeechCompleteSilenceLength time.Duration `yaml:"long_speech_complete_silence_length"`

	// LongSpeechLength is the speech duration breakpoint for the switch.
	// Zero disables it.
	LongSpeechLength time.Duration `yaml:"long_speech_length"`
}

// Defaults used by [DefaultConfig].
const (
	DefaultMinimumSpeechLength           = 300 * time.Millisecond
	DefaultPossiblyCompleteSilenceLength = 300 * time.Millisecond
	DefaultCompleteSilenceLength         = 800 * time.Millisecond
)

// DefaultConfig returns a policy suited to short voice queries. The long
// speech switch is disabled.
func DefaultConfig() Config {
	return Config{
		MinimumSpeechLength:           DefaultMinimumSpeechLength,
		PossiblyCompleteSilenceLength: DefaultPossiblyCompleteSilenceLength,
		CompleteSilenceLength:         DefaultCompleteSilenceLength,
	}
}

// LongSpeechEnabled reports whether the long-speech threshold switch is
// configured.
func (c Config) LongSpeechEnabled() bool {
	return c.LongSpeechLength > 0 && c.LongSpeechCompleteSilenceLength > 0
}

// CompleteSilenceFor returns the trailing silence required to complete an
// utterance whose speech lasted speech.
func (c Config) CompleteSilenceFor(speech time.Duration) time.Duration {
	if c.LongSpeechEnabled() && speech >= c.LongSpeechLength {
		return c.LongSpeechCompleteSilenceLength
	}
	return c.CompleteSilenceLength
}

// Validate returns a joined error listing every problem with c. Each entry
// wraps [ErrInvalidConfig].
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.MinimumSpeechLength < 0 {
		bad("minimum_speech_length %v must not be negative", c.MinimumSpeechLength)
	}
	if c.PossiblyCompleteSilenceLength <= 0 {
		bad("possibly_complete_silence_length %v must be positive", c.PossiblyCompleteSilenceLength)
	}
	if c.CompleteSilenceLength <= 0 {
		bad("complete_silence_length %v must be positive", c.CompleteSilenceLength)
	}
	if c.LongSpeechCompleteSilenceLength < 0 {
		bad("long_speech_complete_silence_length %v must not be negative", c.LongSpeechCompleteSilenceLength)
	}
	if c.LongSpeechLength < 0 {
		bad("long_speech_length %v must not be negative", c.LongSpeechLength)
	}
	return errors.Join(errs...)
}

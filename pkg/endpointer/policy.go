package endpointer

import (
	"time"

	"github.com/hugochiquito/clementine/pkg/types"
)

// evaluate runs the completion policy for one classified frame. Timestamps
// are frame start times: a segment that is speech for n frames has a speech
// duration of exactly n frames, and k silent frames measure k frames of
// trailing silence.
func (e *Endpointer) evaluate(status types.FrameStatus) {
	s := &e.st
	frameStart := s.elapsed - e.frameDuration

	if status == types.FrameSpeech {
		s.speechEverDetected = true
		if s.speechStart == Unset {
			s.speechStart = frameStart
			s.mode = ModeActive
			e.emit(Event{Type: EventSpeechStart, Elapsed: s.elapsed})
		}
		// Fresh speech cancels any pending silence timeout.
		s.speechEnd = Unset
		s.possiblyCompletePending = false
		s.completePending = false
		s.possiblyCompleteRaised = false
		return
	}

	if s.speechStart == Unset {
		return
	}
	if s.speechEnd == Unset {
		s.speechEnd = frameStart
		s.possiblyCompletePending = true
		s.completePending = true
	}

	silence := s.elapsed - s.speechEnd
	speech := s.speechEnd - s.speechStart

	if s.possiblyCompletePending && silence >= e.cfg.PossiblyCompleteSilenceLength {
		s.possiblyCompletePending = false
		s.possiblyCompleteRaised = true
		if s.firstPossiblyCompleteAt == Unset {
			s.firstPossiblyCompleteAt = s.elapsed
		}
		e.emit(Event{Type: EventPossiblyComplete, Elapsed: s.elapsed, SpeechDuration: speech})
	}

	if s.completePending && silence >= e.cfg.CompleteSilenceFor(speech) {
		s.completePending = false
		if speech >= e.cfg.MinimumSpeechLength {
			s.complete = true
			s.completeAt = s.elapsed
			e.emit(Event{Type: EventComplete, Elapsed: s.elapsed, SpeechDuration: speech})
			return
		}
		e.falseStart(speech)
	}
}

// falseStart discards a segment too short to complete and waits for new
// speech. speechEverDetected stays set.
func (e *Endpointer) falseStart(speech time.Duration) {
	s := &e.st
	s.speechStart = Unset
	s.speechEnd = Unset
	s.possiblyCompletePending = false
	s.possiblyCompleteRaised = false
	s.mode = ModeAwaitingSpeech
	s.falseStarts++
	e.emit(Event{Type: EventFalseStart, Elapsed: s.elapsed, SpeechDuration: speech})
}

// Config returns the current policy.
func (e *Endpointer) Config() Config { return e.cfg }

// Configure replaces the whole policy. An invalid cfg leaves the current
// policy untouched. Changes apply from the next frame.
func (e *Endpointer) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// update applies a single-field change through Configure.
func (e *Endpointer) update(mutate func(*Config)) error {
	cfg := e.cfg
	mutate(&cfg)
	return e.Configure(cfg)
}

// SetMinimumSpeechLength sets the shortest speech that can complete.
func (e *Endpointer) SetMinimumSpeechLength(d time.Duration) error {
	return e.update(func(c *Config) { c.MinimumSpeechLength = d })
}

// SetPossiblyCompleteSilenceLength sets the early-signal silence length.
func (e *Endpointer) SetPossiblyCompleteSilenceLength(d time.Duration) error {
	return e.update(func(c *Config) { c.PossiblyCompleteSilenceLength = d })
}

// SetCompleteSilenceLength sets the completion silence for short speech.
func (e *Endpointer) SetCompleteSilenceLength(d time.Duration) error {
	return e.update(func(c *Config) { c.CompleteSilenceLength = d })
}

// SetLongSpeechCompleteSilenceLength sets the completion silence used once
// speech passes the long speech length. The switch is active only while both
// long-speech values are positive.
func (e *Endpointer) SetLongSpeechCompleteSilenceLength(d time.Duration) error {
	return e.update(func(c *Config) { c.LongSpeechCompleteSilenceLength = d })
}

// SetLongSpeechLength sets the speech duration breakpoint.
func (e *Endpointer) SetLongSpeechLength(d time.Duration) error {
	return e.update(func(c *Config) { c.LongSpeechLength = d })
}

// Package sessionlog records the outcome of every endpointing session.
//
// A [Record] is written when a streaming session ends. Stores keep records
// for diagnostics and serve the most recent ones to /v1/sessions/recent.
// Backends: [Discard], [MemStore], [FileStore] (JSON lines) and the
// PostgreSQL store in the postgres sub-package.
package sessionlog

import (
	"context"
	"time"

	"github.com/hugochiquito/clementine/pkg/endpointer"
)

// Outcomes of a session.
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
	OutcomeError      = "error"
)

// Record is the summary of one finished session. Durations are session audio
// time in milliseconds; -1 means the event never happened.
type Record struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Encoding   string    `json:"encoding"`
	Outcome    string    `json:"outcome"`

	ElapsedMS            int64 `json:"elapsed_ms"`
	SpeechMS             int64 `json:"speech_ms"`
	PossiblyCompleteAtMS int64 `json:"possibly_complete_at_ms"`
	CompleteAtMS         int64 `json:"complete_at_ms"`

	Frames       int64   `json:"frames"`
	FalseStarts  int     `json:"false_starts"`
	NoiseLevelDB float64 `json:"noise_level_db"`

	Error string `json:"error,omitempty"`
}

// Store persists session records. Implementations are safe for concurrent
// use.
type Store interface {
	// Save appends rec.
	Save(ctx context.Context, rec Record) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)

	// Close releases resources held by the store.
	Close() error
}

// Pinger is implemented by stores with a remote dependency worth probing
// from /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Session describes the stream a snapshot was taken from.
type Session struct {
	ID         string
	StartedAt  time.Time
	SampleRate int
	Channels   int
	Encoding   string
}

// NewRecord summarises snap. A non-nil err marks the session as failed.
func NewRecord(s Session, snap endpointer.Snapshot, endedAt time.Time, err error) Record {
	rec := Record{
		ID:                   s.ID,
		StartedAt:            s.StartedAt.UTC(),
		EndedAt:              endedAt.UTC(),
		SampleRate:           s.SampleRate,
		Channels:             s.Channels,
		Encoding:             s.Encoding,
		Outcome:              OutcomeIncomplete,
		ElapsedMS:            snap.Elapsed.Milliseconds(),
		SpeechMS:             speechSpan(snap).Milliseconds(),
		PossiblyCompleteAtMS: msOrUnset(snap.FirstPossiblyCompleteAt),
		CompleteAtMS:         msOrUnset(snap.CompleteAt),
		Frames:               snap.Frames,
		FalseStarts:          snap.FalseStarts,
		NoiseLevelDB:         snap.NoiseLevelDB,
	}
	switch {
	case err != nil:
		rec.Outcome = OutcomeError
		rec.Error = err.Error()
	case snap.CompleteAt != endpointer.Unset:
		rec.Outcome = OutcomeComplete
	}
	return rec
}

// speechSpan is the open or closed segment length in snap.
func speechSpan(snap endpointer.Snapshot) time.Duration {
	switch {
	case snap.SpeechStart == endpointer.Unset:
		return 0
	case snap.SpeechEnd == endpointer.Unset:
		return snap.Elapsed - snap.SpeechStart
	default:
		return snap.SpeechEnd - snap.SpeechStart
	}
}

func msOrUnset(d time.Duration) int64 {
	if d == endpointer.Unset {
		return -1
	}
	return d.Milliseconds()
}

// Discard is a Store that drops every record.
type Discard struct{}

func (Discard) Save(context.Context, Record) error            { return nil }
func (Discard) Recent(context.Context, int) ([]Record, error) { return []Record{}, nil }
func (Discard) Close() error                                  { return nil }

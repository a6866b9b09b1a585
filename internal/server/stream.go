package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hugochiquito/clementine/internal/observe"
	"github.com/hugochiquito/clementine/internal/sessionlog"
	"github.com/hugochiquito/clementine/pkg/audio"
	"github.com/hugochiquito/clementine/pkg/audio/opus"
	"github.com/hugochiquito/clementine/pkg/endpointer"
)

// maxPCMChannels bounds the channel count of raw PCM clients.
const maxPCMChannels = 8

// stream serves one WebSocket connection. All methods run on the
// connection's read goroutine.
type stream struct {
	srv    *Server
	conn   *websocket.Conn
	logger *slog.Logger

	// settings is what ep was built with. A start message rebuilds ep when
	// the server settings have changed since.
	settings *Settings
	ep       *endpointer.Endpointer
	events   []endpointer.Event

	active  bool
	sess    sessionlog.Session
	sessCtx context.Context
	span    trace.Span
	log     *slog.Logger
	conv    *audio.Converter
	opus    *opus.Decoder
	pcm     []int16

	// fed counts engine-rate samples this session; estimateUntil is the
	// sample count at which estimation switches to listening (0 = manual).
	fed           int
	estimateUntil int

	lastRMS      float64
	statusSent   bool
	lastStatusAt time.Duration
	framesSeen   int64
}

func newStream(srv *Server, conn *websocket.Conn, logger *slog.Logger) *stream {
	return &stream{srv: srv, conn: conn, logger: logger}
}

// run reads messages until the client goes away or ctx ends. It returns nil
// for an orderly close.
func (st *stream) run(ctx context.Context) error {
	for {
		typ, data, err := st.conn.Read(ctx)
		if err != nil {
			cause := readCause(ctx, err)
			st.finish(ctx, cause, false)
			return cause
		}
		switch typ {
		case websocket.MessageText:
			err = st.handleControl(ctx, data)
		case websocket.MessageBinary:
			err = st.handleAudio(ctx, data)
		}
		if err != nil {
			st.finish(ctx, err, false)
			return err
		}
	}
}

// readCause maps a read error to the session's failure cause. Normal
// closes and server shutdown are not failures.
func readCause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil
	}
	return err
}

func (st *stream) handleControl(ctx context.Context, data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return st.reject(ctx, CodeBadMessage, "invalid JSON: "+err.Error())
	}

	switch msg.Type {
	case MsgStart:
		return st.start(ctx, msg)
	case MsgEstimate:
		if !st.active {
			return st.reject(ctx, CodeNoSession, "estimate without an active session")
		}
		st.estimateUntil = 0
		return st.ep.SetEnvironmentEstimationMode()
	case MsgListen:
		if !st.active {
			return st.reject(ctx, CodeNoSession, "listen without an active session")
		}
		st.estimateUntil = 0
		return st.ep.SetUserInputMode()
	case MsgEnd:
		if !st.active {
			return st.reject(ctx, CodeNoSession, "end without an active session")
		}
		return st.finish(ctx, nil, true)
	default:
		return st.reject(ctx, CodeUnknownType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (st *stream) start(ctx context.Context, msg ClientMessage) error {
	encoding := msg.Encoding
	if encoding == "" {
		encoding = EncodingPCM16
	}
	channels := msg.Channels
	if channels == 0 {
		channels = 1
	}
	if msg.SampleRate <= 0 {
		return st.reject(ctx, CodeBadFormat, "sample_rate must be positive")
	}
	if msg.EstimateMS < 0 {
		return st.reject(ctx, CodeBadFormat, "estimate_ms must not be negative")
	}

	var dec *opus.Decoder
	switch encoding {
	case EncodingPCM16:
		if channels < 1 || channels > maxPCMChannels {
			return st.reject(ctx, CodeBadFormat, fmt.Sprintf("channels must be in [1, %d]", maxPCMChannels))
		}
	case EncodingOpus:
		var err error
		if dec, err = opus.NewDecoder(msg.SampleRate, channels); err != nil {
			return st.reject(ctx, CodeBadFormat, err.Error())
		}
	default:
		return st.reject(ctx, CodeBadFormat, fmt.Sprintf("unsupported encoding %q", encoding))
	}

	if st.active {
		if err := st.finish(ctx, nil, true); err != nil {
			return err
		}
	}
	if err := st.prepare(); err != nil {
		return err
	}

	st.sess = sessionlog.Session{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		SampleRate: msg.SampleRate,
		Channels:   channels,
		Encoding:   encoding,
	}
	st.sessCtx, st.span = observe.StartSessionSpan(ctx, st.sess.ID, msg.SampleRate, channels, encoding)
	st.log = st.logger.With("session_id", st.sess.ID)
	st.opus = dec
	st.conv = audio.NewConverter(st.settings.SampleRate)
	st.fed, st.estimateUntil = 0, 0
	st.statusSent, st.lastStatusAt = false, 0
	st.framesSeen = 0
	st.events = st.events[:0]

	st.ep.StartSession()
	st.active = true
	if msg.EstimateMS > 0 {
		frames := (msg.EstimateMS + 19) / 20
		st.estimateUntil = frames * st.ep.FrameSize()
		if err := st.ep.SetEnvironmentEstimationMode(); err != nil {
			return err
		}
	}

	st.log.Info("session started",
		"sample_rate", msg.SampleRate,
		"channels", channels,
		"encoding", encoding,
		"estimate_ms", msg.EstimateMS,
	)
	return st.send(ctx, SessionMessage{
		Type:       MsgSession,
		SessionID:  st.sess.ID,
		FrameMS:    int(st.ep.FrameDuration() / time.Millisecond),
		SampleRate: st.settings.SampleRate,
	})
}

// prepare builds the engine on first use and rebuilds it after a settings
// change. Otherwise the engine, and its learned noise floor, carries over
// to the next session.
func (st *stream) prepare() error {
	cur := st.srv.settings.Load()
	if st.ep != nil && cur == st.settings {
		return nil
	}
	cls, err := cur.Classifier.NewClassifier(endpointer.ClassifierConfig(cur.SampleRate))
	if err != nil {
		return fmt.Errorf("server: create classifier: %w", err)
	}
	ep, err := endpointer.New(cur.SampleRate, cls,
		endpointer.WithConfig(cur.Endpointer),
		endpointer.WithLogger(st.logger),
		endpointer.WithObserver(func(ev endpointer.Event) { st.events = append(st.events, ev) }),
	)
	if err != nil {
		return fmt.Errorf("server: create endpointer: %w", err)
	}
	st.settings, st.ep = cur, ep
	return nil
}

func (st *stream) handleAudio(ctx context.Context, data []byte) error {
	if !st.active {
		return st.reject(ctx, CodeNoSession, "audio before start")
	}

	var samples []int16
	if st.opus != nil {
		var err error
		if samples, err = st.opus.Decode(data); err != nil {
			return st.reject(ctx, CodeBadAudio, err.Error())
		}
	} else {
		if len(data)%2 != 0 {
			return st.reject(ctx, CodeBadAudio, "odd PCM byte count")
		}
		st.pcm = audio.DecodePCM16(st.pcm[:0], data)
		samples = st.pcm
	}
	if len(samples)%st.sess.Channels != 0 {
		return st.reject(ctx, CodeBadAudio, "sample count is not a multiple of the channel count")
	}

	mono := st.conv.Convert(audio.Frame{
		Samples:    samples,
		SampleRate: st.sess.SampleRate,
		Channels:   st.sess.Channels,
	})
	if err := st.feed(mono); err != nil {
		return err
	}

	frames := st.ep.Snapshot().Frames
	if d := frames - st.framesSeen; d > 0 {
		st.srv.metrics.Frames.Add(st.sessCtx, d)
		st.framesSeen = frames
	}
	if err := st.flushEvents(ctx); err != nil {
		return err
	}
	if err := st.maybeStatus(ctx); err != nil {
		return err
	}
	if st.settings.AutoEnd && st.ep.SpeechInputComplete() {
		return st.finish(ctx, nil, true)
	}
	return nil
}

// feed passes mono to the engine, switching from estimation to listening
// at exactly the requested sample when estimate_ms was given.
func (st *stream) feed(mono []int16) error {
	if st.estimateUntil > st.fed {
		n := min(len(mono), st.estimateUntil-st.fed)
		if err := st.process(mono[:n]); err != nil {
			return err
		}
		mono = mono[n:]
		if st.fed >= st.estimateUntil {
			st.estimateUntil = 0
			if err := st.ep.SetUserInputMode(); err != nil {
				return err
			}
		}
	}
	if len(mono) == 0 {
		return nil
	}
	return st.process(mono)
}

func (st *stream) process(samples []int16) error {
	_, rms, err := st.ep.ProcessAudio(samples)
	if err != nil {
		return err
	}
	st.fed += len(samples)
	st.lastRMS = rms
	return nil
}

func (st *stream) flushEvents(ctx context.Context) error {
	for _, ev := range st.events {
		st.srv.metrics.RecordEvent(st.sessCtx, ev.Type.String())
		st.span.AddEvent(ev.Type.String(), trace.WithAttributes(
			attribute.Int64("elapsed_ms", ev.Elapsed.Milliseconds()),
		))
		st.log.Debug("endpointer event", "event", ev.Type, "elapsed", ev.Elapsed, "speech", ev.SpeechDuration)
		err := st.send(ctx, EventMessage{
			Type:      MsgEvent,
			SessionID: st.sess.ID,
			Event:     ev.Type.String(),
			ElapsedMS: ev.Elapsed.Milliseconds(),
			SpeechMS:  ev.SpeechDuration.Milliseconds(),
		})
		if err != nil {
			return err
		}
	}
	st.events = st.events[:0]
	return nil
}

// maybeStatus sends a status message when StatusInterval of audio has
// passed since the previous one.
func (st *stream) maybeStatus(ctx context.Context) error {
	interval := st.settings.StatusInterval
	if interval <= 0 {
		return nil
	}
	status, elapsed := st.ep.Status()
	if st.statusSent && elapsed-st.lastStatusAt < interval {
		return nil
	}
	st.statusSent, st.lastStatusAt = true, elapsed
	return st.send(ctx, StatusMessage{
		Type:      MsgStatus,
		SessionID: st.sess.ID,
		Status:    status.String(),
		Mode:      st.ep.Mode().String(),
		ElapsedMS: elapsed.Milliseconds(),
		RMSDB:     st.lastRMS,
		NoiseDB:   st.ep.NoiseLevelDB(),
	})
}

// finish ends the active session, records it and, when notify is set, tells
// the client. cause is nil unless the session ended because of a failure.
func (st *stream) finish(ctx context.Context, cause error, notify bool) error {
	if !st.active {
		return nil
	}
	st.active = false

	snap := st.ep.Snapshot()
	rec := sessionlog.NewRecord(st.sess, snap, time.Now().UTC(), cause)
	st.ep.EndSession()

	// ctx may already be cancelled when the client went away.
	bg := context.WithoutCancel(st.sessCtx)
	var ttc time.Duration
	if snap.CompleteAt != endpointer.Unset {
		ttc = snap.CompleteAt
	}
	st.srv.metrics.RecordSession(bg, rec.Outcome, ttc, time.Duration(rec.SpeechMS)*time.Millisecond)

	saveCtx, cancel := context.WithTimeout(bg, saveTimeout)
	defer cancel()
	if err := st.srv.store.Save(saveCtx, rec); err != nil {
		st.log.Warn("session log write failed", "err", err)
	}

	st.span.SetAttributes(
		attribute.String("session.outcome", rec.Outcome),
		attribute.Int64("session.elapsed_ms", rec.ElapsedMS),
	)
	if cause != nil {
		st.span.RecordError(cause)
		st.span.SetStatus(codes.Error, cause.Error())
	}
	st.span.End()

	st.log.Info("session ended",
		"outcome", rec.Outcome,
		"elapsed_ms", rec.ElapsedMS,
		"speech_ms", rec.SpeechMS,
		"complete_at_ms", rec.CompleteAtMS,
	)
	if !notify {
		return nil
	}
	return st.send(ctx, SessionEndMessage{
		Type:         MsgSessionEnd,
		SessionID:    rec.ID,
		Outcome:      rec.Outcome,
		ElapsedMS:    rec.ElapsedMS,
		SpeechMS:     rec.SpeechMS,
		CompleteAtMS: rec.CompleteAtMS,
	})
}

// reject reports a protocol violation to the client and keeps the
// connection open.
func (st *stream) reject(ctx context.Context, code, message string) error {
	logger := st.logger
	if st.active {
		logger = st.log
	}
	logger.Warn("protocol error", "code", code, "message", message)
	st.srv.metrics.RecordProtocolError(ctx, code)
	return st.send(ctx, ErrorMessage{Type: MsgError, Code: code, Message: message})
}

func (st *stream) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("server: marshal %T: %w", v, err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := st.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("server: write: %w", err)
	}
	return nil
}

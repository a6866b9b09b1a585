package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/hugochiquito/clementine/internal/config"
	"github.com/hugochiquito/clementine/pkg/endpointer"
)

// segment is a run of tone (amplitude > 0) or digital silence.
type segment struct {
	d         time.Duration
	amplitude float64
}

// writeWAV encodes segments as 16-bit PCM and returns the file path.
func writeWAV(t *testing.T, rate, channels int, segs ...segment) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	var data []int
	for _, s := range segs {
		n := int(s.d * time.Duration(rate) / time.Second)
		for i := range n {
			v := int(s.amplitude * math.Sin(2*math.Pi*300*float64(i)/float64(rate)))
			for range channels {
				data = append(data, v)
			}
		}
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Endpointer = endpointer.Config{
		MinimumSpeechLength:           100 * time.Millisecond,
		PossiblyCompleteSilenceLength: 200 * time.Millisecond,
		CompleteSilenceLength:         500 * time.Millisecond,
	}
	return cfg
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name       string
		rate       int
		channels   int
		segs       []segment
		wantEvents []string
		wantDone   bool
	}{
		{
			name:       "complete utterance 44.1 kHz stereo",
			rate:       44100,
			channels:   2,
			segs:       []segment{{300 * time.Millisecond, 0}, {700 * time.Millisecond, 9000}, {time.Second, 0}},
			wantEvents: []string{"speech_start", "possibly_complete", "complete"},
			wantDone:   true,
		},
		{
			name:       "trailing silence too short",
			rate:       16000,
			channels:   1,
			segs:       []segment{{300 * time.Millisecond, 0}, {700 * time.Millisecond, 9000}, {300 * time.Millisecond, 0}},
			wantEvents: []string{"speech_start", "possibly_complete"},
		},
		{
			name:     "silence only",
			rate:     8000,
			channels: 1,
			segs:     []segment{{2 * time.Second, 0}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeWAV(t, tc.rate, tc.channels, tc.segs...)
			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer f.Close()

			res, err := analyze(f, testConfig(), 300*time.Millisecond, 10*time.Millisecond)
			if err != nil {
				t.Fatalf("analyze: %v", err)
			}
			var got []string
			for _, ev := range res.Events {
				got = append(got, ev.Type.String())
			}
			if strings.Join(got, ",") != strings.Join(tc.wantEvents, ",") {
				t.Errorf("events = %v, want %v", got, tc.wantEvents)
			}
			if done := res.Snapshot.CompleteAt != endpointer.Unset; done != tc.wantDone {
				t.Errorf("complete = %v, want %v", done, tc.wantDone)
			}
			if res.Format.SampleRate != tc.rate || res.Format.NumChannels != tc.channels {
				t.Errorf("format = %+v", res.Format)
			}
		})
	}
}

func TestAnalyze_SpeechStartsAfterEstimation(t *testing.T) {
	path := writeWAV(t, 16000, 1,
		segment{300 * time.Millisecond, 0},
		segment{500 * time.Millisecond, 9000},
		segment{time.Second, 0},
	)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	res, err := analyze(f, testConfig(), 250*time.Millisecond, 7*time.Millisecond)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Events) == 0 || res.Events[0].Type != endpointer.EventSpeechStart {
		t.Fatalf("events = %+v, want speech_start first", res.Events)
	}
	// The event fires at the end of the first speech frame.
	if got := res.Events[0].Elapsed; got != 320*time.Millisecond {
		t.Errorf("speech_start at %v, want 320ms", got)
	}
}

func TestRun_ExitCodes(t *testing.T) {
	complete := writeWAV(t, 16000, 1, segment{200 * time.Millisecond, 0}, segment{600 * time.Millisecond, 9000}, segment{1500 * time.Millisecond, 0})
	silent := writeWAV(t, 16000, 1, segment{time.Second, 0})
	garbage := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(garbage, []byte("not a wav file at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"complete", []string{complete}, exitComplete},
		{"incomplete", []string{silent}, exitIncomplete},
		{"invalid wav", []string{garbage}, exitError},
		{"missing file", []string{filepath.Join(t.TempDir(), "nope.wav")}, exitError},
		{"no args", nil, exitError},
		{"bad config", []string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), complete}, exitError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(tc.args, &stdout, &stderr); got != tc.want {
				t.Errorf("exit = %d, want %d (stderr: %s)", got, tc.want, stderr.String())
			}
			if tc.want == exitComplete && !strings.Contains(stdout.String(), "complete") {
				t.Errorf("timeline missing complete event:\n%s", stdout.String())
			}
		})
	}
}

// Command endpointwav runs the endpointer over a WAV file and prints the
// events it raises.
//
// Usage:
//
//	endpointwav [-config endpointerd.yaml] [-estimate 300ms] [-chunk 10ms] file.wav
//
// The exit code is 0 when the utterance completed, 2 when it did not and 1
// on errors.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/hugochiquito/clementine/internal/config"
	"github.com/hugochiquito/clementine/pkg/audio"
	"github.com/hugochiquito/clementine/pkg/endpointer"
	"github.com/hugochiquito/clementine/pkg/provider/vad/energy"
)

const (
	exitComplete   = 0
	exitError      = 1
	exitIncomplete = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("endpointwav", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML configuration (defaults when empty)")
	estimate := fs.Duration("estimate", 0, "leading audio used to estimate the noise floor")
	chunk := fs.Duration("chunk", 10*time.Millisecond, "audio fed per call")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: endpointwav [flags] file.wav")
		fs.PrintDefaults()
		return exitError
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(stderr, "endpointwav: %v\n", err)
			return exitError
		}
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "endpointwav: %v\n", err)
		return exitError
	}
	defer f.Close()

	res, err := analyze(f, cfg, *estimate, *chunk)
	if err != nil {
		fmt.Fprintf(stderr, "endpointwav: %s: %v\n", fs.Arg(0), err)
		return exitError
	}
	res.print(stdout)
	if res.Snapshot.CompleteAt == endpointer.Unset {
		return exitIncomplete
	}
	return exitComplete
}

// result is what one pass over a file produced.
type result struct {
	Format   goaudio.Format
	Estimate time.Duration
	Events   []endpointer.Event
	Snapshot endpointer.Snapshot
}

// analyze decodes r as WAV and feeds it to a fresh endpointer in chunks of
// chunk audio time. The first estimate of audio calibrates the noise floor.
func analyze(r io.ReadSeeker, cfg *config.Config, estimate, chunk time.Duration) (*result, error) {
	if chunk <= 0 {
		return nil, errors.New("chunk must be positive")
	}
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth < 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	format := dec.Format()
	if format.NumChannels < 1 || format.SampleRate < 1 {
		return nil, fmt.Errorf("invalid format %d Hz x %d", format.SampleRate, format.NumChannels)
	}

	rate := cfg.Audio.SampleRate
	cls, err := energy.New(endpointer.ClassifierConfig(rate), cfg.Classifier)
	if err != nil {
		return nil, err
	}
	res := &result{Format: *format, Estimate: estimate}
	ep, err := endpointer.New(rate, cls,
		endpointer.WithConfig(cfg.Endpointer),
		endpointer.WithObserver(func(ev endpointer.Event) { res.Events = append(res.Events, ev) }),
	)
	if err != nil {
		return nil, err
	}
	ep.StartSession()

	// Estimation covers whole frames so no frame mixes both modes.
	estimateLeft := int(estimate * time.Duration(rate) / time.Second)
	if fsz := ep.FrameSize(); estimateLeft%fsz != 0 {
		estimateLeft += fsz - estimateLeft%fsz
	}
	if estimateLeft > 0 {
		if err := ep.SetEnvironmentEstimationMode(); err != nil {
			return nil, err
		}
	}

	conv := audio.NewConverter(rate)
	instants := max(1, int(chunk*time.Duration(format.SampleRate)/time.Second))
	buf := &goaudio.IntBuffer{
		Format:         format,
		Data:           make([]int, instants*format.NumChannels),
		SourceBitDepth: bitDepth,
	}
	var pcm []int16

	for !ep.SpeechInputComplete() {
		n, err := dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode: %w", err)
		}
		n -= n % format.NumChannels
		if n == 0 {
			break
		}
		pcm = audio.FromInts(pcm[:0], buf.Data[:n], bitDepth)
		mono := conv.Convert(audio.Frame{
			Samples:    pcm,
			SampleRate: format.SampleRate,
			Channels:   format.NumChannels,
		})

		if estimateLeft > 0 {
			k := min(estimateLeft, len(mono))
			if _, _, err := ep.ProcessAudio(mono[:k]); err != nil {
				return nil, err
			}
			mono = mono[k:]
			if estimateLeft -= k; estimateLeft == 0 {
				if err := ep.SetUserInputMode(); err != nil {
					return nil, err
				}
			}
		}
		if _, _, err := ep.ProcessAudio(mono); err != nil {
			return nil, err
		}
	}

	res.Snapshot = ep.Snapshot()
	ep.EndSession()
	return res, nil
}

func (r *result) print(w io.Writer) {
	fmt.Fprintf(w, "input: %d Hz, %d channel(s); estimate %v\n\n", r.Format.SampleRate, r.Format.NumChannels, r.Estimate)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tSPEECH")
	for _, ev := range r.Events {
		speech := "-"
		if ev.Type != endpointer.EventSpeechStart {
			speech = ev.SpeechDuration.String()
		}
		fmt.Fprintf(tw, "%v\t%s\t%s\n", ev.Elapsed, ev.Type, speech)
	}
	tw.Flush()

	s := r.Snapshot
	fmt.Fprintf(w, "\nstatus %s after %v (%d frames), noise floor %.1f dB, %d false start(s)\n",
		s.Status, s.Elapsed, s.Frames, s.NoiseLevelDB, s.FalseStarts)
}

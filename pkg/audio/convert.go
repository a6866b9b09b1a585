package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts capture frames to the mono format the endpointer
// expects. It logs a warning on the first format mismatch and on the first
// malformed frame. Create one per stream; not designed for shared use across
// goroutines.
type Converter struct {
	// SampleRate is the target rate in Hz. Output is always mono.
	SampleRate int

	rs Resampler

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// NewConverter returns a Converter targeting mono audio at sampleRate.
func NewConverter(sampleRate int) *Converter {
	return &Converter{SampleRate: sampleRate}
}

// Convert returns frame as mono samples at the target rate. If the source
// already matches, the samples are returned unchanged (zero allocation).
// Conversion order: down-mix first, then resample, so that only one channel
// goes through interpolation.
//
// Resampling is continuous across calls: the output length over a stream
// depends only on the total number of source samples, not on how they were
// chunked.
func (c *Converter) Convert(frame Frame) []int16 {
	if frame.Channels <= 0 || frame.SampleRate <= 0 || len(frame.Samples)%frame.Channels != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: malformed frame, dropping",
				"samples", len(frame.Samples),
				"sampleRate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return nil
	}

	if frame.Channels == 1 && frame.SampleRate == c.SampleRate {
		return frame.Samples
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(frame.SampleRate, frame.Channels),
			"to", formatString(c.SampleRate, 1),
		)
	})

	mono := frame.Samples
	if frame.Channels > 1 {
		mono = Downmix(frame.Samples, frame.Channels)
	}
	if c.rs.src != frame.SampleRate || c.rs.dst != c.SampleRate {
		c.rs = Resampler{src: frame.SampleRate, dst: c.SampleRate}
	}
	return c.rs.Resample(mono)
}

// Downmix averages each group of channels interleaved samples into a single
// mono sample. Uses int32 arithmetic so the sum cannot overflow.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	instants := len(samples) / channels
	out := make([]int16, instants)
	for i := range instants {
		var sum int32
		for ch := range channels {
			sum += int32(samples[i*channels+ch])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// ResampleMono resamples a complete mono buffer from srcRate to dstRate
// using linear interpolation. If srcRate == dstRate, the input is returned
// unchanged. Use a [Resampler] for audio that arrives in pieces.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	r := NewResampler(srcRate, dstRate)
	return r.Resample(samples)
}

// Resampler is a streaming linear-interpolation resampler for mono audio.
// Output sample k sits at source position k*src/dst measured from the start
// of the stream, so N source samples always yield floor((N-1)*dst/src)+1
// output samples regardless of chunking. Not safe for concurrent use.
type Resampler struct {
	src, dst int

	next     int64 // index of the next output sample
	consumed int64 // source samples seen before the current chunk
	prev     int16 // last source sample of the previous chunk
}

// NewResampler returns a Resampler from srcRate to dstRate Hz.
func NewResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{src: srcRate, dst: dstRate}
}

// Resample returns the output samples that samples completes. An output
// whose interpolation needs a source sample not yet seen is held back until
// the next call.
func (r *Resampler) Resample(samples []int16) []int16 {
	if r.src <= 0 || r.dst <= 0 || r.src == r.dst {
		return samples
	}
	if len(samples) == 0 {
		return nil
	}
	src, dst := int64(r.src), int64(r.dst)
	total := r.consumed + int64(len(samples))
	at := func(i int64) int16 {
		if i < r.consumed {
			return r.prev
		}
		return samples[i-r.consumed]
	}

	out := make([]int16, 0, int64(len(samples))*dst/src+2)
	for {
		pos := r.next * src
		idx, rem := pos/dst, pos%dst
		if idx >= total || (rem != 0 && idx+1 >= total) {
			break
		}
		s0 := at(idx)
		if rem == 0 {
			out = append(out, s0)
		} else {
			frac := float64(rem) / float64(dst)
			out = append(out, int16(float64(s0)*(1-frac)+float64(at(idx+1))*frac))
		}
		r.next++
	}
	r.consumed = total
	r.prev = samples[len(samples)-1]
	return out
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}

// Package opus decodes Opus packets from streaming clients into interleaved
// int16 PCM for the endpointer's audio converter.
package opus

import (
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/hugochiquito/clementine/pkg/audio"
)

// PacketDuration is the packet length clients are expected to send, in
// milliseconds. It matches the endpointer's frame duration.
const PacketDuration = 20

// maxPacketMs bounds a single decoded packet (Opus allows up to 120 ms).
const maxPacketMs = 120

// ErrUnsupportedFormat is returned for sample rates or channel counts Opus
// cannot decode to.
var ErrUnsupportedFormat = errors.New("opus: unsupported format")

// Decoder wraps a gopus decoder for a single client stream. Each stream gets
// its own decoder so that decoder state stays correct across packets.
// Not safe for concurrent use.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
}

// NewDecoder creates a Decoder producing PCM at sampleRate with the given
// channel count. Opus supports 8, 12, 16, 24 and 48 kHz, mono or stereo.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, sampleRate: sampleRate, channels: channels}, nil
}

// Format returns the PCM format produced by Decode.
func (d *Decoder) Format() audio.Format {
	return audio.Format{SampleRate: d.sampleRate, Channels: d.channels}
}

// Decode decodes one Opus packet into interleaved int16 samples.
func (d *Decoder) Decode(packet []byte) ([]int16, error) {
	if len(packet) == 0 {
		return nil, errors.New("opus: empty packet")
	}
	pcm, err := d.dec.Decode(packet, d.sampleRate*maxPacketMs/1000, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return pcm, nil
}

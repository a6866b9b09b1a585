package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM16 appends the little-endian int16 samples in pcm to dst and
// returns the extended slice. A trailing odd byte is ignored; callers that
// care should check len(pcm)%2 first.
func DecodePCM16(dst []int16, pcm []byte) []int16 {
	n := len(pcm) / 2
	for i := range n {
		dst = append(dst, int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return dst
}

// EncodePCM16 converts samples to little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// FromInts converts integer samples of the given bit depth to int16 by
// shifting. WAV decoders hand out []int regardless of the source depth.
func FromInts(dst []int16, src []int, bitDepth int) []int16 {
	shift := bitDepth - 16
	for _, v := range src {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		dst = append(dst, clamp16(v))
	}
	return dst
}

// FromFloat32 converts normalised [-1, 1] samples to int16, clamping values
// outside the range.
func FromFloat32(dst []int16, src []float32) []int16 {
	for _, s := range src {
		dst = append(dst, clamp16(int(math.Round(float64(s)*math.MaxInt16))))
	}
	return dst
}

func clamp16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

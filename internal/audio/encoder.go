package audio

import (
	"encoding/binary"
	"math"
)

// Encoder converts raw 32-bit float capture buffers into the mono
// 16-bit little-endian PCM the recognition backend expects.
type Encoder struct {
	channels int
	inRate   int
	outRate  int
}

func NewEncoder(channels, inRate, outRate int) *Encoder {
	return &Encoder{channels: channels, inRate: inRate, outRate: outRate}
}

// Encode takes an interleaved float32 capture buffer as raw bytes and
// returns resampled mono S16LE bytes.
func (e *Encoder) Encode(raw []byte) []byte {
	samples := DecodeF32LE(raw)
	mono := DownmixMono(samples, e.channels)
	if e.inRate != e.outRate {
		mono = Resample(mono, e.inRate, e.outRate)
	}
	return QuantizeS16LE(mono)
}

// DecodeF32LE reinterprets little-endian float32 bytes as samples.
// Trailing partial samples are dropped.
func DecodeF32LE(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// DownmixMono averages interleaved channels into one.
func DownmixMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample performs linear interpolation between sample rates. Linear
// is enough here: the output feeds a recognizer, not a listener.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// QuantizeS16LE clamps float samples to [-1,1] and converts them to
// signed 16-bit little-endian PCM.
func QuantizeS16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

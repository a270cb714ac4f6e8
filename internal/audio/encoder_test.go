package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func f32Bytes(samples ...float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func TestDownmixMono(t *testing.T) {
	got := DownmixMono([]float32{1, 0, 0.5, 0.5}, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0] != 0.5 || got[1] != 0.5 {
		t.Fatalf("unexpected downmix: %v", got)
	}
}

func TestDownmixMonoPassthrough(t *testing.T) {
	in := []float32{0.1, 0.2}
	got := DownmixMono(in, 1)
	if &got[0] != &in[0] {
		t.Fatal("expected mono input passed through")
	}
}

func TestResampleHalvesRate(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = float32(i)
	}
	got := Resample(in, 48000, 16000)
	if len(got) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(got))
	}
	// Positions map linearly: output i samples input at i*3.
	if got[1] != 3 || got[10] != 30 {
		t.Fatalf("unexpected resample values: got[1]=%v got[10]=%v", got[1], got[10])
	}
}

func TestQuantizeClamps(t *testing.T) {
	out := QuantizeS16LE([]float32{2, -2, 0})
	if len(out) != 6 {
		t.Fatalf("expected 6 bytes, got %d", len(out))
	}
	hi := int16(binary.LittleEndian.Uint16(out[0:]))
	lo := int16(binary.LittleEndian.Uint16(out[2:]))
	zero := int16(binary.LittleEndian.Uint16(out[4:]))
	if hi != math.MaxInt16 {
		t.Fatalf("expected clamp to max, got %d", hi)
	}
	if lo != -math.MaxInt16 {
		t.Fatalf("expected clamp to -max, got %d", lo)
	}
	if zero != 0 {
		t.Fatalf("expected zero sample, got %d", zero)
	}
}

func TestEncodeEndToEnd(t *testing.T) {
	// Stereo 32k float in, mono 16k S16LE out: frame count halves twice.
	enc := NewEncoder(2, 32000, 16000)
	raw := f32Bytes(0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5) // 4 stereo frames
	out := enc.Encode(raw)
	if len(out) != 4 { // 2 mono samples, 2 bytes each
		t.Fatalf("expected 4 bytes, got %d", len(out))
	}
	v := int16(binary.LittleEndian.Uint16(out[0:]))
	half := float32(0.5)
	want := int16(half * math.MaxInt16)
	if v != want {
		t.Fatalf("expected %d, got %d", want, v)
	}
}

func TestEnqueueDropOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	enqueueDropOldest(ch, []byte{1})
	enqueueDropOldest(ch, []byte{2})
	enqueueDropOldest(ch, []byte{3}) // evicts {1}

	first := <-ch
	second := <-ch
	if first[0] != 2 || second[0] != 3 {
		t.Fatalf("expected oldest frame dropped, got %v %v", first, second)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra frame %v", extra)
	default:
	}
}

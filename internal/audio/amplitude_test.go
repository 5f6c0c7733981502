package audio

import (
	"math"
	"testing"
)

func TestAmplitude_ZeroInput(t *testing.T) {
	if got := Amplitude(make([]float32, 1024)); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := Amplitude(nil); got != 0 {
		t.Fatalf("expected 0 for empty buffer, got %v", got)
	}
}

func TestAmplitude_FullScaleClampsToOne(t *testing.T) {
	buf := make([]float32, 1024)
	for i := range buf {
		buf[i] = 1
		if i%2 == 1 {
			buf[i] = -1
		}
	}
	if got := Amplitude(buf); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	for i := range buf {
		buf[i] = 3
	}
	if got := Amplitude(buf); got != 1 {
		t.Fatalf("expected clipped input to clamp to 1, got %v", got)
	}
}

func TestAmplitude_AlwaysWithinUnitRange(t *testing.T) {
	inputs := [][]float32{
		{0.01, -0.01, 0.02},
		{0.2, 0.1, -0.3, 0.05, 0.0, 0.4},
		{float32(math.Inf(1)), 0, 0, 0},
		{float32(math.NaN()), 0, 0, 0},
	}
	for i, in := range inputs {
		got := Amplitude(in)
		if got < 0 || got > 1 || got != got {
			t.Fatalf("input %d: amplitude out of range: %v", i, got)
		}
	}
}

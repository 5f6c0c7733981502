package audio

import (
	"encoding/binary"
	"testing"
)

func TestOutputCapacity_MatchesCeilFormula(t *testing.T) {
	rates := []int{8000, 11025, 16000, 22050, 24000, 32000, 44100, 48000, 96000}
	frames := []int{1, 17, 160, 441, 480, 512, 1024, 4096}
	for _, r := range rates {
		conv, err := NewConverter(NativeFormat{SampleRate: float64(r), Channels: 1})
		if err != nil {
			t.Fatalf("rate %d: unexpected error: %v", r, err)
		}
		for _, n := range frames {
			want := (n*TargetSampleRate + r - 1) / r
			if got := conv.OutputCapacity(n); got != want {
				t.Fatalf("rate %d frames %d: expected capacity %d, got %d", r, n, want, got)
			}
		}
	}
}

func TestOutputCapacity_ZeroFrames(t *testing.T) {
	conv, _ := NewConverter(NativeFormat{SampleRate: 44100, Channels: 2})
	if got := conv.OutputCapacity(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestNewConverter_RejectsInvalidFormat(t *testing.T) {
	if _, err := NewConverter(NativeFormat{SampleRate: 0, Channels: 1}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := NewConverter(NativeFormat{SampleRate: 48000, Channels: 0}); err == nil {
		t.Fatal("expected error for zero channels")
	}
}

func TestConvert_NeverExceedsCapacity(t *testing.T) {
	for _, r := range []float64{8000, 22050, 44100, 48000} {
		conv, _ := NewConverter(NativeFormat{SampleRate: r, Channels: 2})
		for i := 0; i < 50; i++ {
			frames := 100 + i*37
			buf := make([]float32, frames*2)
			out := conv.Convert(buf)
			if len(out)%BytesPerSample != 0 {
				t.Fatalf("odd output length %d", len(out))
			}
			if got, limit := len(out)/BytesPerSample, conv.OutputCapacity(frames); got > limit {
				t.Fatalf("rate %v: produced %d frames, capacity %d", r, got, limit)
			}
		}
	}
}

func TestConvert_StreamLengthTracksRatio(t *testing.T) {
	conv, _ := NewConverter(NativeFormat{SampleRate: 48000, Channels: 1})
	total := 0
	for i := 0; i < 100; i++ {
		total += len(conv.Convert(make([]float32, 480))) / BytesPerSample
	}
	if total < 15990 || total > 16010 {
		t.Fatalf("expected about 16000 frames for one second of 48kHz input, got %d", total)
	}
}

func TestConvert_DownmixesAndScales(t *testing.T) {
	conv, _ := NewConverter(NativeFormat{SampleRate: TargetSampleRate, Channels: 2})
	out := conv.Convert([]float32{1, 0, 2, 2, -1, -1})
	if len(out) != 3*BytesPerSample {
		t.Fatalf("expected 3 frames, got %d bytes", len(out))
	}
	got := []int16{
		int16(binary.LittleEndian.Uint16(out[0:])),
		int16(binary.LittleEndian.Uint16(out[2:])),
		int16(binary.LittleEndian.Uint16(out[4:])),
	}
	want := []int16{16384, 32767, -32767}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestConvert_IgnoresEmptyBuffer(t *testing.T) {
	conv, _ := NewConverter(NativeFormat{SampleRate: 44100, Channels: 2})
	if out := conv.Convert([]float32{0.5}); out != nil {
		t.Fatalf("expected nil output for partial frame, got %d bytes", len(out))
	}
}

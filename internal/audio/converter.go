package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Converter turns interleaved float32 device buffers into TargetSampleRate
// mono PCM16. The fractional read position and the last mono sample carry
// over between buffers so consecutive buffers resample as one stream.
type Converter struct {
	nativeRate float64
	channels   int
	ratio      float64
	step       float64

	pos  float64
	prev float32
	mono []float32
}

func NewConverter(format NativeFormat) (*Converter, error) {
	if format.SampleRate <= 0 || math.IsNaN(format.SampleRate) || math.IsInf(format.SampleRate, 0) {
		return nil, fmt.Errorf("unsupported native sample rate %v", format.SampleRate)
	}
	if format.Channels <= 0 {
		return nil, fmt.Errorf("unsupported native channel count %d", format.Channels)
	}
	return &Converter{
		nativeRate: format.SampleRate,
		channels:   format.Channels,
		ratio:      TargetSampleRate / format.SampleRate,
		step:       format.SampleRate / TargetSampleRate,
	}, nil
}

func (c *Converter) Ratio() float64 {
	return c.ratio
}

// OutputCapacity is ceil(inputFrames * TargetSampleRate / nativeRate).
func (c *Converter) OutputCapacity(inputFrames int) int {
	if inputFrames <= 0 {
		return 0
	}
	if c.nativeRate == math.Trunc(c.nativeRate) {
		native := int64(c.nativeRate)
		return int((int64(inputFrames)*TargetSampleRate + native - 1) / native)
	}
	return int(math.Ceil(float64(inputFrames) * c.ratio))
}

func (c *Converter) Reset() {
	c.pos = 0
	c.prev = 0
}

// Convert resamples one interleaved buffer. A trailing partial frame is
// ignored.
func (c *Converter) Convert(interleaved []float32) []byte {
	frames := len(interleaved) / c.channels
	if frames == 0 {
		return nil
	}
	mono := c.downmix(interleaved, frames)
	capacity := c.OutputCapacity(frames)
	out := make([]byte, 0, capacity*BytesPerSample)

	last := float64(frames - 1)
	for produced := 0; c.pos <= last && produced < capacity; produced++ {
		out = binary.LittleEndian.AppendUint16(out, uint16(floatToPCM16(c.sampleAt(mono, frames))))
		c.pos += c.step
	}
	if c.pos <= last {
		c.pos = last + c.step
	}
	c.pos -= float64(frames)
	c.prev = mono[frames-1]
	return out
}

func (c *Converter) sampleAt(mono []float32, frames int) float32 {
	if c.pos < 0 {
		t := float32(c.pos + 1)
		return c.prev + (mono[0]-c.prev)*t
	}
	i := int(c.pos)
	frac := float32(c.pos - float64(i))
	next := mono[i]
	if i+1 < frames {
		next = mono[i+1]
	}
	return mono[i] + (next-mono[i])*frac
}

func (c *Converter) downmix(interleaved []float32, frames int) []float32 {
	if cap(c.mono) < frames {
		c.mono = make([]float32, frames)
	}
	mono := c.mono[:frames]
	if c.channels == 1 {
		copy(mono, interleaved[:frames])
		return mono
	}
	scale := 1 / float32(c.channels)
	for f := 0; f < frames; f++ {
		var sum float32
		base := f * c.channels
		for ch := 0; ch < c.channels; ch++ {
			sum += interleaved[base+ch]
		}
		mono[f] = sum * scale
	}
	return mono
}

func floatToPCM16(v float32) int16 {
	if v != v {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(float64(v) * math.MaxInt16))
}

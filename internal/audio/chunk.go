package audio

import "time"

const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	BytesPerSample   = 2
)

// Chunk is one converted device buffer: mono, 16-bit signed little-endian
// PCM at TargetSampleRate. The sample bytes are never mutated after the
// chunk is created.
type Chunk struct {
	Seq        uint64
	CapturedAt time.Time
	pcm        []byte
}

func NewChunk(seq uint64, capturedAt time.Time, pcm []byte) Chunk {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	return Chunk{Seq: seq, CapturedAt: capturedAt, pcm: buf}
}

// Bytes returns a copy of the PCM payload.
func (c Chunk) Bytes() []byte {
	buf := make([]byte, len(c.pcm))
	copy(buf, c.pcm)
	return buf
}

func (c Chunk) Len() int {
	return len(c.pcm)
}

func (c Chunk) Frames() int {
	return len(c.pcm) / (BytesPerSample * TargetChannels)
}

func (c Chunk) Duration() time.Duration {
	return time.Duration(c.Frames()) * time.Second / TargetSampleRate
}

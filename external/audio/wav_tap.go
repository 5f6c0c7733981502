package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/kikitori/internal/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavPCMFormat = 1

// WAVTap writes emitted chunks to a WAV file from its own goroutine. Write
// never blocks; chunks that do not fit the queue are dropped.
type WAVTap struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	chunks chan audio.Chunk
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	frames  atomic.Uint64
	err     error
}

func NewWAVTap(path string, queueSize int) (*WAVTap, error) {
	if queueSize <= 0 {
		queueSize = 64
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}
	t := &WAVTap{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, audio.TargetSampleRate, 16, audio.TargetChannels, wavPCMFormat),
		chunks: make(chan audio.Chunk, queueSize),
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

func (t *WAVTap) Write(chunk audio.Chunk) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.chunks <- chunk:
		return true
	default:
		t.dropped.Add(1)
		return false
	}
}

func (t *WAVTap) run() {
	defer close(t.done)
	format := &goaudio.Format{NumChannels: audio.TargetChannels, SampleRate: audio.TargetSampleRate}
	for chunk := range t.chunks {
		if t.err != nil {
			continue
		}
		pcm := chunk.Bytes()
		data := make([]int, len(pcm)/audio.BytesPerSample)
		for i := range data {
			data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		}
		buf := &goaudio.IntBuffer{Format: format, Data: data, SourceBitDepth: 16}
		if err := t.enc.Write(buf); err != nil {
			t.err = fmt.Errorf("failed to write wav samples: %w", err)
			slog.Error("wav tap write failed", "path", t.path, "error", err)
			continue
		}
		t.frames.Add(uint64(len(data)))
	}
}

// Close drains queued chunks and finalizes the WAV header.
func (t *WAVTap) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.chunks)
	t.mu.Unlock()

	<-t.done
	encErr := t.enc.Close()
	fileErr := t.file.Close()
	slog.Info("wav tap closed",
		"path", t.path,
		"frames", t.frames.Load(),
		"dropped_chunks", t.dropped.Load())
	switch {
	case t.err != nil:
		return t.err
	case encErr != nil:
		return fmt.Errorf("failed to finalize wav file: %w", encErr)
	case fileErr != nil:
		return fmt.Errorf("failed to close wav file: %w", fileErr)
	}
	return nil
}

func (t *WAVTap) Dropped() uint64 {
	return t.dropped.Load()
}

func (t *WAVTap) Frames() uint64 {
	return t.frames.Load()
}

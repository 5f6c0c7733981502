package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type EngineState int

const (
	EngineStopped EngineState = iota
	EngineRunning
	EnginePaused
)

func (s EngineState) String() string {
	switch s {
	case EngineRunning:
		return "running"
	case EnginePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Engine owns the input device stream. Device buffers are converted inside
// the device callback and handed to the chunk handler without queueing, so
// the handler must not block.
type Engine struct {
	open    DeviceOpener
	limiter *rate.Limiter

	mu        sync.Mutex
	state     EngineState
	device    Device
	converter *Converter
	format    NativeFormat

	emitMu   sync.RWMutex
	emitting bool
	seq      atomic.Uint64

	onChunk     atomic.Pointer[func(Chunk)]
	onAmplitude atomic.Pointer[func(float32)]
}

// NewEngine builds an engine. amplitudeMaxHz bounds how often the amplitude
// handler fires; zero or negative means every buffer.
func NewEngine(open DeviceOpener, amplitudeMaxHz float64) *Engine {
	limit := rate.Inf
	if amplitudeMaxHz > 0 {
		limit = rate.Limit(amplitudeMaxHz)
	}
	return &Engine{
		open:    open,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (e *Engine) OnChunk(handler func(Chunk)) {
	e.onChunk.Store(&handler)
}

func (e *Engine) OnAmplitude(handler func(float32)) {
	e.onAmplitude.Store(&handler)
}

func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EngineStopped {
		return nil
	}

	dev, err := e.open()
	if err != nil {
		return classifyDeviceError(err)
	}
	format, err := dev.Format()
	if err != nil {
		_ = dev.Close()
		return classifyDeviceError(err)
	}
	conv, err := NewConverter(format)
	if err != nil {
		_ = dev.Close()
		return &CaptureError{Kind: CaptureConverterInit, Err: err}
	}

	e.converter = conv
	e.format = format
	e.seq.Store(0)
	e.setEmitting(true)
	if err := dev.Start(e.process); err != nil {
		e.setEmitting(false)
		e.converter = nil
		_ = dev.Close()
		return classifyDeviceError(err)
	}
	e.device = dev
	e.state = EngineRunning
	slog.Info("audio capture started",
		"native_sample_rate", format.SampleRate,
		"native_channels", format.Channels,
		"target_sample_rate", TargetSampleRate,
		"ratio", conv.Ratio())
	return nil
}

func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EngineRunning {
		return
	}
	e.setEmitting(false)
	if err := e.device.Stop(); err != nil {
		slog.Warn("failed to pause audio device", "error", err)
	}
	e.state = EnginePaused
	e.emitAmplitude(0)
	slog.Info("audio capture paused", "emitted_chunks", e.seq.Load())
}

func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EnginePaused {
		return nil
	}
	e.setEmitting(true)
	if err := e.device.Start(e.process); err != nil {
		e.setEmitting(false)
		return classifyDeviceError(err)
	}
	e.state = EngineRunning
	slog.Info("audio capture resumed")
	return nil
}

// Stop tears the device down. It is a no-op on a stopped engine, and no
// chunk is emitted once it returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == EngineStopped {
		return
	}
	e.setEmitting(false)
	if err := e.device.Stop(); err != nil {
		slog.Warn("failed to stop audio device", "error", err)
	}
	if err := e.device.Close(); err != nil {
		slog.Warn("failed to close audio device", "error", err)
	}
	e.device = nil
	e.converter = nil
	e.state = EngineStopped
	e.emitAmplitude(0)
	slog.Info("audio capture stopped", "emitted_chunks", e.seq.Load())
}

// setEmitting takes the write side of emitMu, so turning emission off waits
// for an in-flight callback to finish.
func (e *Engine) setEmitting(on bool) {
	e.emitMu.Lock()
	e.emitting = on
	e.emitMu.Unlock()
}

func (e *Engine) process(samples []float32) {
	e.emitMu.RLock()
	defer e.emitMu.RUnlock()
	if !e.emitting {
		return
	}

	pcm := e.converter.Convert(samples)
	if e.limiter.Allow() {
		e.emitAmplitude(Amplitude(samples))
	}
	if len(pcm) == 0 {
		return
	}
	chunk := Chunk{Seq: e.seq.Add(1), CapturedAt: time.Now(), pcm: pcm}
	if h := e.onChunk.Load(); h != nil {
		(*h)(chunk)
	}
}

func (e *Engine) emitAmplitude(level float32) {
	if h := e.onAmplitude.Load(); h != nil {
		(*h)(level)
	}
}

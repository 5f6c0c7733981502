package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	meterWidth    = 30
	meterInterval = 50 * time.Millisecond
)

// levelMeter keeps the latest input level for a redraw loop. Set only stores
// a number, so it is safe to call from the capture callback.
type levelMeter struct {
	bits  atomic.Uint32
	width int
}

func newLevelMeter(width int) *levelMeter {
	return &levelMeter{width: width}
}

func (m *levelMeter) Set(level float32) {
	m.bits.Store(math.Float32bits(level))
}

func (m *levelMeter) Level() float32 {
	return math.Float32frombits(m.bits.Load())
}

// run redraws the bar every interval until ctx is done, then ends the line.
func (m *levelMeter) run(ctx context.Context, w io.Writer, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(w)
			return
		case <-ticker.C:
			renderMeter(w, m.Level(), m.width)
		}
	}
}

// start runs the redraw loop in the background. The returned stop may be
// called more than once and returns after the final newline is written.
func (m *levelMeter) start(ctx context.Context, w io.Writer, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.run(ctx, w, interval)
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func renderMeter(w io.Writer, level float32, width int) {
	n := int(level * float32(width))
	n = max(0, min(n, width))
	fmt.Fprintf(w, "\r[%s%s]", strings.Repeat("#", n), strings.Repeat(" ", width-n))
}

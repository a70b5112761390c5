package orchestrator

import (
	"context"
	"sync"
)

// logBuffer accumulates the ordered log of one job and fans it out to any
// number of subscribers. Every subscriber reads the same sequence from the
// beginning; late subscribers first drain the backlog, so two subscribers
// can never observe lines in different relative order. Close is called only
// after the producer flushed everything, which keeps the end-of-stream
// signal behind the last line.
type logBuffer struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	wake   chan struct{} // closed and replaced on every append / on close
}

func newLogBuffer() *logBuffer {
	return &logBuffer{wake: make(chan struct{})}
}

// Append adds one line. Appends after Close are dropped.
func (b *logBuffer) Append(line string) {
	b.mu.Lock()
	if !b.closed {
		b.lines = append(b.lines, line)
		close(b.wake)
		b.wake = make(chan struct{})
	}
	b.mu.Unlock()
}

// Close marks the log complete; active subscriptions end after draining.
func (b *logBuffer) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.wake)
	}
	b.mu.Unlock()
}

// Len returns the number of buffered lines.
func (b *logBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Subscribe returns a channel delivering the full ordered log. The channel
// is closed when the buffer closes and all lines were delivered, or when
// ctx is cancelled.
func (b *logBuffer) Subscribe(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		next := 0
		for {
			b.mu.Lock()
			for next < len(b.lines) {
				line := b.lines[next]
				next++
				b.mu.Unlock()
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
				b.mu.Lock()
			}
			if b.closed {
				b.mu.Unlock()
				return
			}
			wake := b.wake
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
		}
	}()
	return out
}

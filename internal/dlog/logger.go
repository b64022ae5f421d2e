// Package dlog is the small async logger every Context hands down as a log
// prefix to its Sessions, Peers, and Listeners (spec.md §9 "Global verbosity
// / log prefix"). Grounded on hexinfra-gorox's internal/common.go logger:
// a buffered writer drained by one goroutine so logging never blocks the
// readiness loop.
package dlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger serializes log lines from arbitrary goroutines onto one writer.
type Logger struct {
	out     io.Writer
	verbose bool

	mu    sync.Mutex
	queue chan string
	done  chan struct{}
}

// New wraps w (os.Stderr if nil) with an async single-writer queue.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	l := &Logger{out: w, queue: make(chan string, 256), done: make(chan struct{})}
	go l.drain()
	return l
}

func (l *Logger) SetVerbose(v bool) { l.mu.Lock(); l.verbose = v; l.mu.Unlock() }
func (l *Logger) Verbose() bool     { l.mu.Lock(); defer l.mu.Unlock(); return l.verbose }

func (l *Logger) drain() {
	for line := range l.queue {
		io.WriteString(l.out, line)
	}
	close(l.done)
}

// Close stops accepting lines and waits for the drain goroutine to flush.
func (l *Logger) Close() {
	close(l.queue)
	<-l.done
}

func (l *Logger) enqueue(prefix, format string, args ...any) {
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	line := fmt.Sprintf("%s %s "+format+"\n", append([]any{ts, prefix}, args...)...)
	select {
	case l.queue <- line:
	default:
		// Queue full: drop rather than block the readiness loop. A core
		// that's logging fast enough to fill a 256-line queue has bigger
		// problems than a missing log line.
	}
}

// Infof logs unconditionally.
func (l *Logger) Infof(prefix, format string, args ...any) { l.enqueue(prefix, format, args...) }

// Debugf logs only when verbose is set.
func (l *Logger) Debugf(prefix, format string, args ...any) {
	if l.Verbose() {
		l.enqueue(prefix, format, args...)
	}
}

// Errorf logs unconditionally, tagged as an error line.
func (l *Logger) Errorf(prefix, format string, args ...any) {
	l.enqueue(prefix, "ERROR: "+format, args...)
}

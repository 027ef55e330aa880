package otel

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// queueSize bounds the events waiting for the writer. Emit drops rather
// than block the card path when the writer falls behind.
const queueSize = 4096

type queued struct {
	line []byte
	ev   Event
}

// Logger appends events to a writer from a background goroutine.
// Safe for concurrent use; a nil *Logger discards everything.
type Logger struct {
	session string
	w       io.Writer
	file    io.Closer // set when the logger opened the file itself

	// sendMu orders Emit's send against Close's close(queue).
	sendMu sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}

	ringMu sync.Mutex
	ring   *RingBuffer

	dropped atomic.Uint64
}

// NewLogger starts a Logger writing JSONL to w. Close flushes it.
func NewLogger(w io.Writer) *Logger {
	l := &Logger{
		session: uuid.NewString(),
		w:       w,
		queue:   make(chan queued, queueSize),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// NewNullLogger keeps events only in an attached RingBuffer.
func NewNullLogger() *Logger {
	return NewLogger(io.Discard)
}

// OpenFile appends events to path, creating parent directories. Close
// also closes the file.
func OpenFile(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := NewLogger(f)
	l.file = f
	return l, nil
}

func (l *Logger) run() {
	defer close(l.done)
	for q := range l.queue {
		if _, err := l.w.Write(q.line); err != nil {
			l.dropped.Add(1)
		}
		l.ringMu.Lock()
		ring := l.ring
		l.ringMu.Unlock()
		ring.Push(q.ev)
	}
}

// Emit queues e for the file and the ring buffer, stamping Time (when
// zero) and the session id. It never blocks: events emitted after Close
// or while the queue is full are counted as dropped.
func (l *Logger) Emit(e Event) {
	if l == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.SessionID = l.session

	line, err := json.Marshal(e)
	if err != nil {
		l.dropped.Add(1)
		return
	}
	line = append(line, '\n')

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- queued{line: line, ev: e}:
	default:
		l.dropped.Add(1)
	}
}

// Error records a failure of comp. A nil err leaves Err empty.
func (l *Logger) Error(kind EventKind, comp string, err error) {
	e := Event{Level: LevelError, Kind: kind, Comp: comp}
	if err != nil {
		e.Err = err.Error()
	}
	l.Emit(e)
}

// Fetch records the outcome of one gateway call for category.
func (l *Logger) Fetch(category string, n int, dur time.Duration, err error) {
	if err != nil {
		l.Emit(Event{Level: LevelWarn, Kind: KindFetchError, Comp: "fetch", Category: category, Dur: dur, Err: err.Error()})
		return
	}
	l.Emit(Event{Level: LevelInfo, Kind: KindFetchComplete, Comp: "fetch", Category: category, Dur: dur, Count: n})
}

// Card records a card decision by comp: a selection or a quality reject.
func (l *Logger) Card(kind EventKind, comp, category, title, stage string) {
	l.Emit(Event{Level: LevelInfo, Kind: kind, Comp: comp, Category: category, Title: title, Stage: stage})
}

// SessionID is stamped on every event of this run.
func (l *Logger) SessionID() string {
	if l == nil {
		return ""
	}
	return l.session
}

// SetRingBuffer mirrors written events into ring.
func (l *Logger) SetRingBuffer(ring *RingBuffer) {
	l.ringMu.Lock()
	l.ring = ring
	l.ringMu.Unlock()
}

// Dropped counts events that never reached the writer.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close writes out queued events and stops the writer. Later Emits are
// dropped. Safe to call more than once.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.sendMu.Lock()
	if l.closed {
		l.sendMu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	close(l.queue)
	l.sendMu.Unlock()

	<-l.done
	if l.file != nil {
		l.file.Close()
	}
	if d := l.dropped.Load(); d > 0 {
		fmt.Fprintf(os.Stderr, "waitwiki: %d events dropped in session %s\n", d, l.session)
	}
}

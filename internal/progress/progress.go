// Package progress carries per-chunk translation progress from the
// orchestrator to a client. Events are self-describing: each one names the
// blocks it completed so a client can resume from any prefix of the stream.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/valpere/doctran/internal"
)

type EventType string

const (
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Terminal reports whether the event ends a stream.
func (t EventType) Terminal() bool { return t == EventComplete || t == EventError }

type CompletedBlock struct {
	Index          int    `json:"index"`
	ClientID       string `json:"client_id,omitempty"`
	TranslatedText string `json:"translated_text"`
}

type ErrorInfo struct {
	Kind     string         `json:"kind"`
	Message  string         `json:"message"`
	Detected map[string]int `json:"detected,omitempty"`
}

type Event struct {
	Type             EventType          `json:"-"`
	RequestID        string             `json:"request_id,omitempty"`
	ChunkIndex       int                `json:"chunk_index"`
	CompletedIndices []int              `json:"completed_indices"`
	CompletedIDs     []string           `json:"completed_ids"`
	CompletedBlocks  []CompletedBlock   `json:"completed_blocks"`
	ChunkSize        int                `json:"chunk_size"`
	TotalPending     int                `json:"total_pending"`
	Timestamp        time.Time          `json:"timestamp"`
	Result           *internal.Contract `json:"result,omitempty"`
	Error            *ErrorInfo         `json:"error,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Publish(e Event)
}

type SinkFunc func(e Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Stream is a FIFO event queue between one producer side (any number of
// goroutines) and one consumer. With a limit > 0 the oldest progress event
// is dropped on overflow; terminal events are never dropped. Publishing a
// terminal event closes the stream.
type Stream struct {
	mu      sync.Mutex
	queue   []Event
	notify  chan struct{}
	closed  bool
	limit   int
	dropped int
}

func NewStream(limit int) *Stream {
	return &Stream{notify: make(chan struct{}, 1), limit: limit}
}

func (s *Stream) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.limit > 0 && len(s.queue) >= s.limit && !e.Type.Terminal() {
		s.dropOldest()
	}
	s.queue = append(s.queue, e)
	if e.Type.Terminal() {
		s.closed = true
	}
	s.mu.Unlock()
	s.wake()
}

// dropOldest removes the oldest non-terminal event. Callers hold mu.
func (s *Stream) dropOldest() {
	for i, q := range s.queue {
		if !q.Type.Terminal() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.dropped++
			return
		}
	}
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close ends the stream without a terminal event.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Dropped returns how many events overflow discarded.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Next blocks for the next event. It returns io.EOF once the stream is
// closed and drained, or ctx's error.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// WriteSSE writes e as one server-sent event and flushes when w supports it.
func WriteSSE(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Pump copies events from s to w until the stream ends or ctx is done.
func Pump(ctx context.Context, s *Stream, w io.Writer) error {
	for {
		e, err := s.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := WriteSSE(w, e); err != nil {
			return err
		}
	}
}

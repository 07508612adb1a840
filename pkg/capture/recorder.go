package capture

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Recorder receives trace events. Implementations must be safe for
// concurrent use and should not block.
type Recorder interface {
	Record(e Event)
}

// NoopRecorder discards all events.
type NoopRecorder struct{}

// Record discards the event.
func (NoopRecorder) Record(Event) {}

// FileRecorder appends CBOR-encoded events to a file.
type FileRecorder struct {
	mu     sync.Mutex
	file   *os.File
	enc    *cbor.Encoder
	closed bool
}

// NewFileRecorder opens path for appending, creating it if needed.
func NewFileRecorder(path string) (*FileRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileRecorder{file: f, enc: newEncoder(f)}, nil
}

// Record appends e. Encoding errors are dropped; tracing must not disturb
// the flow being traced.
func (r *FileRecorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	_ = r.enc.Encode(e)
}

// Close closes the file. Later Record calls are ignored.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// MemoryRecorder keeps events in memory.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// Record appends e.
func (r *MemoryRecorder) Record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Stages returns the stage names of the events of kind k, in order.
func (r *MemoryRecorder) Stages(k Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e.Stage)
		}
	}
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*FileRecorder)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
)

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

var ErrClosed = errors.New("stream closed")

// Writer emits frames one per line and flushes after each. Close writes the
// done frame; it is safe to call more than once.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

func (sw *Writer) Write(f Frame) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return ErrClosed
	}
	if f.Type == FrameDone {
		return sw.closeLocked()
	}
	return sw.writeLocked(f)
}

func (sw *Writer) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return nil
	}
	return sw.closeLocked()
}

func (sw *Writer) closeLocked() error {
	sw.closed = true
	return sw.writeLocked(Frame{Type: FrameDone})
}

func (sw *Writer) writeLocked(f Frame) error {
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	line = append(line, '\n')
	if _, err := sw.w.Write(line); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

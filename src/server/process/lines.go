package process

import (
	"bytes"
	"sync"
)

// maxLineLength caps a buffered partial line; longer lines are emitted in
// pieces.
const maxLineLength = 1 << 20

// LineWriter is an io.Writer that calls emit once per complete line,
// independent of how the bytes were chunked. Trailing "\r" is stripped.
type LineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

// NewLineWriter creates a LineWriter calling emit for each line.
func NewLineWriter(emit func(line string)) *LineWriter {
	return &LineWriter{emit: emit}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buf = append(w.buf, p...)
			if len(w.buf) >= maxLineLength {
				w.flushLocked()
			}
			break
		}
		w.buf = append(w.buf, p[:i]...)
		w.flushLocked()
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.flushLocked()
	}
}

func (w *LineWriter) flushLocked() {
	line := string(bytes.TrimSuffix(w.buf, []byte("\r")))
	w.buf = w.buf[:0]
	w.emit(line)
}

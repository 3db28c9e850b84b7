// Package output caps and truncates captured process output.
package output

import "sync"

// Truncate returns the first maxBytes bytes of raw and whether anything was cut.
// It works on raw bytes, so the length guarantee holds regardless of later escaping.
// A non-positive maxBytes means no limit.
func Truncate(raw []byte, maxBytes int) ([]byte, bool) {
	if maxBytes <= 0 || len(raw) <= maxBytes {
		return raw, false
	}
	return raw[:maxBytes], true
}

// TruncateString is Truncate for text.
func TruncateString(text string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text, false
	}
	return text[:maxBytes], true
}

// CappedBuffer stores at most limit bytes and silently discards the rest while still reporting
// full writes, so a producer on the other end of a pipe is never blocked by the cap.
type CappedBuffer struct {
	mu        sync.Mutex
	limit     int64
	buf       []byte
	truncated bool
}

// NewCappedBuffer creates a buffer that keeps at most limit bytes.
func NewCappedBuffer(limit int64) *CappedBuffer {
	return &CappedBuffer{limit: limit}
}

// Write implements io.Writer.
func (b *CappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - int64(len(b.buf))
	switch {
	case room <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case int64(len(p)) > room:
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
	default:
		b.buf = append(b.buf, p...)
	}
	return len(p), nil
}

// Bytes returns a copy of the stored bytes.
func (b *CappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Truncated reports whether any byte was discarded.
func (b *CappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Len returns the number of stored bytes.
func (b *CappedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

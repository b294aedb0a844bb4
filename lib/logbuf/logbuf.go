// Package logbuf keeps a bounded, newest-first ring of human-readable
// log lines. The mobile log viewer and the export tooling read plain
// text only, so lines carry no structured fields.
package logbuf

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const DefaultCapacity = 5000

type Buffer struct {
	mu       sync.Mutex
	capacity int
	// newest first
	lines []string
	now   func() time.Time
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		now:      time.Now,
	}
}

// SetClock overrides the timestamp source.
func (b *Buffer) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Buffer) Append(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := fmt.Sprintf("[%s] %s", b.now().Format("15:04:05"), message)
	b.lines = append([]string{line}, b.lines...)
	if len(b.lines) > b.capacity {
		b.lines = b.lines[:b.capacity]
	}
}

func (b *Buffer) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

// Lines returns a copy of the buffer, newest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// Export joins the buffer oldest first, the order a person reads a
// log file in.
func (b *Buffer) Export() string {
	lines := b.Lines()
	var out strings.Builder
	for i := len(lines) - 1; i >= 0; i-- {
		out.WriteString(lines[i])
		if i > 0 {
			out.WriteByte('\n')
		}
	}
	return out.String()
}

// Mask hides a secret for logging: first four runes, an ellipsis, and
// the last rune. Short values are fully masked.
func Mask(secret string) string {
	runes := []rune(secret)
	if len(runes) <= 5 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:4]) + "..." + string(runes[len(runes)-1])
}

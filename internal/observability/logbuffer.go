package observability

import (
	"strings"
	"sync"
)

// LogBuffer is an io.Writer keeping the most recent log lines in memory so
// the dashboard can tail them without touching the host filesystem.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
	next  int
	full  bool
}

// NewLogBuffer keeps up to max lines.
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = 1000
	}
	return &LogBuffer{lines: make([]string, max), max: max}
}

// Write splits p into lines and appends them to the ring.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		b.lines[b.next] = line
		b.next = (b.next + 1) % b.max
		if b.next == 0 {
			b.full = true
		}
	}
	return len(p), nil
}

// Tail returns the most recent n lines, oldest first.
func (b *LogBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = b.max
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]string, 0, n)
	start := b.next - n
	if start < 0 {
		start += b.max
	}
	for i := 0; i < n; i++ {
		out = append(out, b.lines[(start+i)%b.max])
	}
	return out
}

package dashboard

import (
	"bytes"
	"strings"
	"sync"
)

const maxLogLines = 1000

// LogBuffer keeps the tail of the process log for the log pane. It is an
// io.Writer so it can sit next to the log file behind the same *log.Logger.
type LogBuffer struct {
	mu      sync.RWMutex
	lines   []string
	partial []byte
	max     int
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{max: maxLogLines}
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial = append(b.partial, p...)
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		b.lines = append(b.lines, string(b.partial[:i]))
		b.partial = b.partial[i+1:]
	}
	if extra := len(b.lines) - b.max; extra > 0 {
		b.lines = append(b.lines[:0:0], b.lines[extra:]...)
	}
	return len(p), nil
}

// Tail returns up to n of the most recent complete lines, oldest first.
func (b *LogBuffer) Tail(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := max(len(b.lines)-n, 0)
	return append([]string(nil), b.lines[start:]...)
}

func (b *LogBuffer) String() string {
	return strings.Join(b.Tail(maxLogLines), "\n")
}

package device

import (
	"context"
	"sync"
	"time"
)

// CommandQueue is a FIFO of commands with any number of producers and a single
// consumer, the owning Device.
type CommandQueue struct {
	mu       sync.Mutex
	commands []Command
	signal   chan struct{}
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{signal: make(chan struct{}, 1)}
}

func (q *CommandQueue) Put(cmd Command) {
	if cmd == nil {
		panic("CommandQueue: command cannot be nil")
	}
	q.mu.Lock()
	q.commands = append(q.commands, cmd)
	q.mu.Unlock()
	q.wake()
}

// Next pops the oldest command, blocking for at most timeout. It returns false
// on timeout, when ctx ends, or when Wake interrupts the wait.
func (q *CommandQueue) Next(ctx context.Context, timeout time.Duration) (Command, bool) {
	if cmd, ok := q.pop(); ok {
		return cmd, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.signal:
		return q.pop()
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (q *CommandQueue) pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.commands) == 0 {
		return nil, false
	}
	cmd := q.commands[0]
	q.commands[0] = nil
	q.commands = q.commands[1:]
	if len(q.commands) == 0 {
		// drop the wake-up that announced what was just taken
		select {
		case <-q.signal:
		default:
		}
	}
	return cmd, true
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commands)
}

// Clear drops every queued command and returns how many there were.
func (q *CommandQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.commands)
	q.commands = nil
	return n
}

// Wake interrupts a consumer blocked in Next.
func (q *CommandQueue) Wake() {
	q.wake()
}

func (q *CommandQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

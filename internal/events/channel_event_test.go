package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type linkStatus struct {
	Address   string
	Connected bool
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}
	var zero T
	return zero
}

func TestChannelEvent_Listen_Notify_Basic(t *testing.T) {
	event := NewChannelEvent[string](false)
	require.Equal(t, 0, event.ListenerCount())

	ch := make(chan string, 10)
	unregister := event.Listen(ch)
	assert.Equal(t, 1, event.ListenerCount())

	event.Notify("test1")
	event.Notify("test2")
	assert.Equal(t, "test1", receive(t, ch))
	assert.Equal(t, "test2", receive(t, ch))

	unregister()
	assert.Equal(t, 0, event.ListenerCount())

	event.Notify("test3")
	select {
	case val := <-ch:
		t.Errorf("Unexpected value received after unregister: %s", val)
	default:
	}
}

func TestChannelEvent_ReplaysLastValueToNewListener(t *testing.T) {
	event := NewChannelEvent[linkStatus](true)

	ch1 := make(chan linkStatus, 10)
	defer event.Listen(ch1)()
	select {
	case v := <-ch1:
		t.Errorf("Unexpected replay before any Notify: %+v", v)
	default:
	}

	event.Notify(linkStatus{Address: "AA", Connected: true})
	assert.True(t, receive(t, ch1).Connected)

	ch2 := make(chan linkStatus, 10)
	defer event.Listen(ch2)()
	assert.Equal(t, linkStatus{Address: "AA", Connected: true}, receive(t, ch2))

	last, ok := event.Last()
	assert.True(t, ok)
	assert.Equal(t, "AA", last.Address)
}

func TestChannelEvent_NoReplayWhenDisabled(t *testing.T) {
	event := NewChannelEvent[string](false)
	event.Notify("first-event")

	ch := make(chan string, 1)
	defer event.Listen(ch)()
	select {
	case v := <-ch:
		t.Errorf("Unexpected value: %s", v)
	default:
	}

	_, ok := event.Last()
	assert.False(t, ok)
}

func TestChannelEvent_Listen_NilChannel(t *testing.T) {
	event := NewChannelEvent[string](false)
	assert.Panics(t, func() { event.Listen(nil) })
}

func TestChannelEvent_FullChannelSkipsValue(t *testing.T) {
	event := NewChannelEvent[string](false)

	ch := make(chan string, 1)
	defer event.Listen(ch)()
	ch <- "blocking"

	event.Notify("test1")
	assert.Equal(t, 1, len(ch))
	<-ch

	event.Notify("test2")
	assert.Equal(t, "test2", receive(t, ch))
}

func TestChannelEvent_ConcurrentNotify(t *testing.T) {
	event := NewChannelEvent[int](false)

	channels := make([]chan int, 10)
	for i := range channels {
		channels[i] = make(chan int, 100)
		defer event.Listen(channels[i])()
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(value int) {
			defer wg.Done()
			event.Notify(value)
		}(i)
	}
	wg.Wait()

	for _, ch := range channels {
		got := map[int]bool{}
		for len(got) < 5 {
			got[receive(t, ch)] = true
		}
		assert.Len(t, got, 5)
	}
}

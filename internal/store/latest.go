package store

import (
	"sync"
	"sync/atomic"
)

// InitialValue is the placeholder held by [Latest] before the device reports.
const InitialValue = "Waiting for connection..."

// Latest is the single process-wide latest value cell.
//
// Latest stores the most recently observed device line or status message.
// Set replaces the value atomically, so Get never observes a partial write
// and never blocks on the writer.
//
// Subscribers receive every new value via buffered channels (buffer size 16).
// Updates are sent non-blocking; if a subscriber's buffer is full the value is
// dropped for that subscriber, which is harmless because only the latest
// value matters.
type Latest struct {
	value       atomic.Pointer[string]
	subscribers map[chan string]struct{}
	subMu       sync.RWMutex
}

// NewLatest creates a [Latest] cell holding [InitialValue].
func NewLatest() *Latest {
	l := &Latest{
		subscribers: make(map[chan string]struct{}),
	}
	v := InitialValue
	l.value.Store(&v)
	return l
}

// Get returns the current value.
func (l *Latest) Get() string {
	return *l.value.Load()
}

// Set replaces the current value and notifies all subscribers.
func (l *Latest) Set(v string) {
	l.value.Store(&v)
	l.notifySubscribers(v)
}

// Subscribe creates a new subscription and returns a channel for receiving
// new values.
//
// Caller must call [Latest.Unsubscribe] when done to prevent resource leaks.
func (l *Latest) Subscribe() <-chan string {
	ch := make(chan string, 16)

	l.subMu.Lock()
	l.subscribers[ch] = struct{}{}
	l.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (l *Latest) Unsubscribe(ch <-chan string) {
	l.subMu.Lock()
	defer l.subMu.Unlock()

	for subCh := range l.subscribers {
		if subCh == ch {
			delete(l.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (l *Latest) notifySubscribers(v string) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()

	for ch := range l.subscribers {
		select {
		case ch <- v:
		default:
			// subscriber is slow, drop the value
		}
	}
}

// Package events provides a typed broadcast notifier with bounded
// subscriber channels. Delivery is best-effort: a subscriber that falls
// behind loses events rather than blocking the chain.
package events

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the per-subscriber channel capacity used when the
// caller passes 0.
const DefaultBufferSize = 64

// Notifier broadcasts values of type T to all subscribers.
type Notifier[T any] struct {
	name string
	buf  int

	mu   sync.Mutex
	subs []chan T
}

// NewNotifier creates a notifier. The name labels dropped-event warnings.
func NewNotifier[T any](name string, bufferSize int) *Notifier[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Notifier[T]{name: name, buf: bufferSize}
}

// Subscribe registers a new subscriber and returns its receive channel.
func (n *Notifier[T]) Subscribe() <-chan T {
	ch := make(chan T, n.buf)
	n.mu.Lock()
	n.subs = append(n.subs, ch)
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel returned by Subscribe and closes it.
func (n *Notifier[T]) Unsubscribe(ch <-chan T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, sub := range n.subs {
		if sub == ch {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Notify delivers v to every subscriber without blocking. Full channels
// drop the event with a warning.
func (n *Notifier[T]) Notify(v T) {
	n.mu.Lock()
	subs := make([]chan T, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- v:
		default:
			log.WithField("notifier", n.name).Warn("Subscriber channel full, dropping event")
		}
	}
}

// NotifyVec delivers a batch in order.
func (n *Notifier[T]) NotifyVec(vs []T) {
	for _, v := range vs {
		n.Notify(v)
	}
}

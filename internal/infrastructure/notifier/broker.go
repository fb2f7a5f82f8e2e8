package notifier

import (
	"context"
	"sync"
)

// Message is one in-process notification.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is the in-process pub/sub feeding local consumers such as the
// websocket hub. Slow subscribers lose messages rather than stall publishers.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Message
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Message)}
}

func (b *Broker) Name() string { return "broker" }

// Subscribe returns a channel of messages and a cancel func that closes it.
func (b *Broker) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers to every subscriber with room in its buffer.
func (b *Broker) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}
	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers reports how many channels are attached.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

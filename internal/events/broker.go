// Package events fans out category change notifications inside the process.
package events

import (
	"sync"

	"counters/internal/store"
)

// Broker is an in-process store.ChangeFeed. Each subscriber gets its own
// goroutine and a one-slot mailbox, so a slow subscriber never blocks the
// writer and bursts of changes collapse into a single pending delivery.
type Broker struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	handler func(store.Change)
	mailbox chan store.Change
	done    chan struct{}
	once    sync.Once
	broker  *Broker
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

// OnChange registers handler. It runs on a dedicated goroutine until the
// subscription is cancelled.
func (b *Broker) OnChange(handler func(store.Change)) store.Subscription {
	s := &subscriber{
		handler: handler,
		mailbox: make(chan store.Change, 1),
		done:    make(chan struct{}),
		broker:  b,
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.once.Do(func() { close(s.done) })
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.loop()
	return s
}

// Publish offers change to every subscriber. A subscriber that already has
// a pending change keeps that one.
func (b *Broker) Publish(change store.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.mailbox <- change:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close cancels every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

func (s *subscriber) loop() {
	for {
		select {
		case <-s.done:
			return
		case change := <-s.mailbox:
			s.handler(change)
		}
	}
}

func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.done)
	})
}

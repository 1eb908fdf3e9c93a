// Package lock provides single-writer locks keyed by string.
package lock

import (
	"context"
	"sync"
)

// Locker serializes work per key. The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// TicketKey is the lock key guarding ticket state.
func TicketKey(ticketID string) string {
	return "ticket:" + ticketID
}

// DeliveryKey is the lock key guarding one (event, recipient, channel) triple.
func DeliveryKey(eventID, recipient, channel string) string {
	return "delivery:" + eventID + ":" + channel + ":" + recipient
}

// ReportKey is the lock key guarding one (supplier, date) report.
func ReportKey(supplier, date string) string {
	return "report:" + supplier + ":" + date
}

// KeyedMutex is an in-process Locker. Entries are reference counted and removed when idle.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.drop(key, e)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// Len reports how many keys are held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

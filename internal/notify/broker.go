// Package notify fans sync completion events out to connected event
// streams. Delivery is best effort: a slow or absent subscriber never
// blocks ingestion.
package notify

import (
	"sync"
)

// SyncEvent reports the terminal outcome of a document sync.
type SyncEvent struct {
	DocumentID string `json:"fileId"`
	Synced     bool   `json:"synced"`
	Error      string `json:"error,omitempty"`
}

// Broker is an in-process publish/subscribe hub keyed by owner or
// session so each event stream only sees its own documents.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SyncEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan SyncEvent]struct{})}
}

// Subscribe registers a listener for the given principal key and
// returns its event channel.
func (b *Broker) Subscribe(key string) chan SyncEvent {
	ch := make(chan SyncEvent, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[chan SyncEvent]struct{})
	}
	b.subs[key][ch] = struct{}{}
	return ch
}

func (b *Broker) Unsubscribe(key string, ch chan SyncEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, key)
		}
	}
}

// Publish delivers the event to every current subscriber of the key,
// dropping it for subscribers whose buffer is full.
func (b *Broker) Publish(key string, ev SyncEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

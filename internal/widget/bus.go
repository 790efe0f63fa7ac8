// Package widget adapts the third-party hold-at-location locator widget into
// an inbound event channel. Provider-shaped payloads are translated into the
// internal address type at this boundary and never leak past it.
package widget

import (
	"errors"
	"sync"
)

// EventCollectPointConfirmed is emitted when the shopper confirms a locker or
// partner store inside the locator widget.
const EventCollectPointConfirmed = "COLLECT_POINT_CONFIRMED"

// ProviderAddress is the provider's address payload, verbatim.
type ProviderAddress struct {
	LocationID string `json:"locationId"`
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	ProvinceID int    `json:"provinceId"`
	PostalCode string `json:"postalCode"`
}

// Event is one inbound widget notification.
type Event struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Address ProviderAddress `json:"address"`
}

// ErrNoSubscriber indicates no reconciler is listening for the session.
var ErrNoSubscriber = errors.New("widget: no subscriber for session")

const subscriberBuffer = 4

// Bus routes widget events to the per-session subscriber. A subscription is
// tied to the reconciler's active lifetime: opening the hold-at-location
// panel subscribes, closing it (or selecting another pick-up mode)
// unsubscribes.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers the session as the sole listener for its widget events
// and returns the event channel plus a cancel func. Re-subscribing replaces
// the previous subscription.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if prev, ok := b.subs[sessionID]; ok {
		close(prev)
	}

	ch := make(chan Event, subscriberBuffer)
	b.subs[sessionID] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if current, ok := b.subs[sessionID]; ok && current == ch {
			delete(b.subs, sessionID)
			close(current)
		}
	}
	return ch, cancel
}

// Publish delivers the event to the session's subscriber. Delivery is
// non-blocking: a full buffer drops the oldest pending event first, since
// only the latest confirmation matters.
func (b *Bus) Publish(sessionID string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[sessionID]
	if !ok {
		return ErrNoSubscriber
	}

	for {
		select {
		case ch <- event:
			return nil
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

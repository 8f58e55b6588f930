package stream

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Event types published by the domain services.
const (
	TypeContractCreated       = "contract.created"
	TypeContractStatusChanged = "contract.status_changed"
	TypeVersionSaved          = "contract.version_saved"
	TypeDocumentUploaded      = "document.uploaded"
	TypeEnvelopeCreated       = "envelope.created"
	TypeRecipientSigned       = "recipient.signed"
	TypeEnvelopeFullySigned   = "envelope.fully_signed"
	TypeSubscriptionChanged   = "billing.subscription_changed"
	TypeMembershipChanged     = "company.membership_changed"
)

const subscriberBuffer = 16

// Event is a change notification scoped to one company.
type Event struct {
	Type      string         `json:"type"`
	CompanyID string         `json:"company_id"`
	EntityID  string         `json:"entity_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// NewEvent stamps an event with the current time.
func NewEvent(typ, companyID, entityID string, data map[string]any) Event {
	return Event{Type: typ, CompanyID: companyID, EntityID: entityID, Data: data, At: time.Now().UTC()}
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(evt Event)
}

// Hub fans events out to the subscribers of each company.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event
	next int
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers a subscriber for companyID. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, companyID string) <-chan Event {
	companyID = strings.TrimSpace(companyID)
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[companyID] == nil {
		h.subs[companyID] = make(map[int]chan Event)
	}
	h.subs[companyID][id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[companyID], id)
		if len(h.subs[companyID]) == 0 {
			delete(h.subs, companyID)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish delivers evt to the company's subscribers without blocking; slow subscribers miss it.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.CompanyID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports how many subscribers a company has.
func (h *Hub) Subscribers(companyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[companyID])
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

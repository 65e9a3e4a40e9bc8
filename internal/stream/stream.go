// Package stream fans payment lifecycle events out to live subscribers
// (the back-office SSE feed).
package stream

import (
	"context"
	"sync"
	"time"
)

// Event types.
const (
	PaymentCreated  = "payment.created"
	PaymentApproved = "payment.approved"
	PaymentExpired  = "payment.expired"
	PaymentRejected = "payment.rejected"
)

// Event describes one observed change of a scan payment.
type Event struct {
	Type         string    `json:"type"`
	PaymentID    string    `json:"payment_id"`
	SubmissionID string    `json:"submission_id,omitempty"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Coupon       string    `json:"coupon,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber, drop
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

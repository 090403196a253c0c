// Package slots keeps the most recent unanswered question of each kind for a
// short window, so a question that arrives before the automaton is ready for
// it can still be answered.
package slots

import (
	"time"

	"autograb/internal/domain"
)

// DefaultExpiry is how long a recorded question stays usable.
const DefaultExpiry = 30 * time.Second

// Slots holds one pending question per kind. Not safe for concurrent use.
type Slots struct {
	expiry   time.Duration
	quantity *domain.PendingQuestion
	price    *domain.PendingQuestion
}

// New returns empty slots; a non-positive expiry uses DefaultExpiry.
func New(expiry time.Duration) *Slots {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Slots{expiry: expiry}
}

func (s *Slots) Expiry() time.Duration {
	return s.expiry
}

// Record overwrites the slot for kind with msg. QuestionNone is ignored.
func (s *Slots) Record(kind domain.QuestionKind, msg domain.Message, now time.Time) {
	slot := s.slot(kind)
	if slot == nil {
		return
	}
	*slot = &domain.PendingQuestion{Message: msg, ObservedAt: now}
}

// TakeIfFresh returns and clears the slot's message if it was observed within
// the expiry window. A stale entry is evicted and reported absent.
func (s *Slots) TakeIfFresh(kind domain.QuestionKind, now time.Time) (domain.Message, bool) {
	slot := s.slot(kind)
	if slot == nil || *slot == nil {
		return domain.Message{}, false
	}
	pending := *slot
	*slot = nil
	if now.Sub(pending.ObservedAt) > s.expiry {
		return domain.Message{}, false
	}
	return pending.Message, true
}

// Peek returns the slot's entry without consuming it, stale or not.
func (s *Slots) Peek(kind domain.QuestionKind) (domain.PendingQuestion, bool) {
	slot := s.slot(kind)
	if slot == nil || *slot == nil {
		return domain.PendingQuestion{}, false
	}
	return **slot, true
}

// Discard clears the slot for kind.
func (s *Slots) Discard(kind domain.QuestionKind) {
	if slot := s.slot(kind); slot != nil {
		*slot = nil
	}
}

func (s *Slots) slot(kind domain.QuestionKind) **domain.PendingQuestion {
	switch kind {
	case domain.QuestionQuantity:
		return &s.quantity
	case domain.QuestionPrice:
		return &s.price
	default:
		return nil
	}
}

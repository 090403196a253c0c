package domain

import "time"

// Affordance is an actionable element attached to an inbound message, such as
// an inline button. Ref is opaque to the automaton and handed back unchanged.
type Affordance struct {
	Label string `json:"label"`
	Ref   string `json:"ref"`
}

// Message is one inbound chat message from the counter-party.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from,omitempty"`
	Text        string       `json:"text"`
	Affordances []Affordance `json:"affordances,omitempty"`
}

// QuestionKind classifies a follow-up question from the counter-party.
type QuestionKind int

const (
	QuestionNone QuestionKind = iota
	QuestionQuantity
	QuestionPrice
)

func (k QuestionKind) String() string {
	switch k {
	case QuestionQuantity:
		return "quantity"
	case QuestionPrice:
		return "price"
	default:
		return "none"
	}
}

// PendingQuestion is the latest unanswered question of one kind.
type PendingQuestion struct {
	Message    Message
	ObservedAt time.Time
}

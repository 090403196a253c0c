package domain

import "time"

// Phase is the negotiation automaton's current step.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingQuantity
	PhaseAwaitingPrice
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingQuantity:
		return "awaiting_quantity"
	case PhaseAwaitingPrice:
		return "awaiting_price"
	default:
		return "idle"
	}
}

// Acceptance is the audit record of one committed offer.
type Acceptance struct {
	NegotiationID string
	Offer         OfferRecord
	MessageID     string
	AcceptedAt    time.Time
}

// AnswerRecord is the audit record of one answer sent for a negotiation.
type AnswerRecord struct {
	NegotiationID string
	Kind          QuestionKind
	Text          string
	SentAt        time.Time
}

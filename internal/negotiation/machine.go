// Package negotiation holds the single in-flight negotiation and its phase.
//
// Idle --Commit--> AwaitingQuantity --AnswerQuantity--> AwaitingPrice
// --AnswerPrice--> Idle. The offer is set exactly while the phase is not Idle.
package negotiation

import (
	"errors"
	"math"
	"strconv"

	"autograb/internal/domain"
)

var (
	// ErrOfferInFlight is returned by Commit when a negotiation is already
	// running; the running negotiation is left untouched.
	ErrOfferInFlight = errors.New("negotiation: offer already in flight")
	// ErrPhaseMismatch is returned when an answer is requested in the wrong phase.
	ErrPhaseMismatch = errors.New("negotiation: phase mismatch")
)

// Answer is the reply produced by a phase transition.
type Answer struct {
	NegotiationID string
	Kind          domain.QuestionKind
	Text          string
	Offer         domain.OfferRecord
}

// Snapshot is a read-only view of the machine.
type Snapshot struct {
	Phase         domain.Phase
	NegotiationID string
	Offer         *domain.OfferRecord
}

// Machine is not safe for concurrent use; its owner serializes access.
type Machine struct {
	phase         domain.Phase
	offer         *domain.OfferRecord
	negotiationID string
}

func New() *Machine {
	return &Machine{phase: domain.PhaseIdle}
}

func (m *Machine) Phase() domain.Phase {
	return m.phase
}

func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{Phase: m.phase, NegotiationID: m.negotiationID}
	if m.offer != nil {
		offer := *m.offer
		s.Offer = &offer
	}
	return s
}

// Commit starts a negotiation for offer.
func (m *Machine) Commit(offer domain.OfferRecord, negotiationID string) error {
	if m.phase != domain.PhaseIdle {
		return ErrOfferInFlight
	}
	m.offer = &offer
	m.negotiationID = negotiationID
	m.phase = domain.PhaseAwaitingQuantity
	return nil
}

// AnswerQuantity produces the quantity reply and advances to AwaitingPrice.
func (m *Machine) AnswerQuantity() (Answer, error) {
	if m.phase != domain.PhaseAwaitingQuantity {
		return Answer{}, ErrPhaseMismatch
	}
	a := Answer{
		NegotiationID: m.negotiationID,
		Kind:          domain.QuestionQuantity,
		Text:          Truncate(m.offer.Quantity),
		Offer:         *m.offer,
	}
	m.phase = domain.PhaseAwaitingPrice
	return a, nil
}

// AnswerPrice produces the price reply and returns the machine to Idle.
func (m *Machine) AnswerPrice() (Answer, error) {
	if m.phase != domain.PhaseAwaitingPrice {
		return Answer{}, ErrPhaseMismatch
	}
	a := Answer{
		NegotiationID: m.negotiationID,
		Kind:          domain.QuestionPrice,
		Text:          Truncate(m.offer.UnitPrice),
		Offer:         *m.offer,
	}
	m.phase = domain.PhaseIdle
	m.offer = nil
	m.negotiationID = ""
	return a, nil
}

// Truncate renders the integer part of v. Fractions are dropped, never rounded.
func Truncate(v float64) string {
	return strconv.FormatFloat(math.Trunc(v), 'f', 0, 64)
}

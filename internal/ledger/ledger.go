// Package ledger remembers which inbound messages and which offers the
// automaton has already acted on. Sets only grow for the process lifetime.
//
// Ledger is not safe for concurrent use; the dispatcher serializes access.
package ledger

type Ledger struct {
	seenMessages   map[string]struct{}
	acceptedOffers map[string]struct{}
}

func New() *Ledger {
	return &Ledger{
		seenMessages:   make(map[string]struct{}),
		acceptedOffers: make(map[string]struct{}),
	}
}

// SeenMessage reports whether a message id was already processed. Empty ids
// are never considered seen.
func (l *Ledger) SeenMessage(id string) bool {
	if id == "" {
		return false
	}
	_, ok := l.seenMessages[id]
	return ok
}

func (l *Ledger) MarkSeenMessage(id string) {
	if id == "" {
		return
	}
	l.seenMessages[id] = struct{}{}
}

// Accepted reports whether an offer id was already committed to. Anonymous
// offers are always eligible.
func (l *Ledger) Accepted(offerID string) bool {
	if offerID == "" {
		return false
	}
	_, ok := l.acceptedOffers[offerID]
	return ok
}

// MarkAccepted records an offer id; anonymous offers are not recorded.
func (l *Ledger) MarkAccepted(offerID string) {
	if offerID == "" {
		return
	}
	l.acceptedOffers[offerID] = struct{}{}
}

// Len returns the sizes of the seen-message and accepted-offer sets.
func (l *Ledger) Len() (messages, offers int) {
	return len(l.seenMessages), len(l.acceptedOffers)
}

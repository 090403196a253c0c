package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autograb/internal/domain"
	"autograb/internal/extractor"
	"autograb/internal/ledger"
	"autograb/internal/negotiation"
	"autograb/internal/outbox"
	"autograb/internal/slots"
)

const (
	DefaultListCommand = "👷‍♂️ Список текущих заказов"
	DefaultAcceptLabel = "возьму"
)

// Transport is the outbound side of the chat session with the counter-party.
type Transport interface {
	SendText(ctx context.Context, text string) error
	TriggerAccept(ctx context.Context, ref string) error
}

// Journal records accepted offers and sent answers for auditing. It is never
// read back into the automaton.
type Journal interface {
	RecordAcceptance(ctx context.Context, a domain.Acceptance) error
	RecordAnswer(ctx context.Context, a domain.AnswerRecord) error
}

// Outbox runs outbound tasks asynchronously in enqueue order.
type Outbox interface {
	Enqueue(t outbox.Task) bool
}

// Outcome tells what the dispatcher did with one inbound message.
type Outcome string

const (
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeAnsweredQuantity Outcome = "answered_quantity"
	OutcomeAnsweredPrice    Outcome = "answered_price"
	OutcomeListRequested    Outcome = "list_requested"
	OutcomeSuppressed       Outcome = "suppressed"
	OutcomeAccepted         Outcome = "accepted"
	OutcomeNoEligibleOffer  Outcome = "no_eligible_offer"
	OutcomeDropped          Outcome = "dropped"
)

type Options struct {
	Thresholds   domain.Thresholds
	SlotExpiry   time.Duration
	ParseWorkers int
	ListCommand  string
	AcceptLabel  string
	// Journal is optional.
	Journal Journal
	Logger  *slog.Logger
	Now     func() time.Time
}

// State is a point-in-time view of the dispatcher.
type State struct {
	Phase          domain.Phase
	NegotiationID  string
	Offer          *domain.OfferRecord
	Thresholds     domain.Thresholds
	SeenMessages   int
	AcceptedOffers int
	// PendingQuestions lists the kinds whose slot holds a question still
	// inside the expiry window.
	PendingQuestions []domain.QuestionKind
}

// Dispatcher is the single consumer of inbound messages. It owns the
// negotiation state, the ledger and the question slots, and serializes every
// message through one mutex.
type Dispatcher struct {
	transport Transport
	outbox    Outbox
	journal   Journal
	pool      *extractor.Pool
	logger    *slog.Logger
	now       func() time.Time

	listCommand string
	acceptLabel string

	mu         sync.Mutex
	thresholds domain.Thresholds
	ledger     *ledger.Ledger
	slots      *slots.Slots
	machine    *negotiation.Machine
}

func NewDispatcher(t Transport, ob Outbox, opts Options) (*Dispatcher, error) {
	if t == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if ob == nil {
		return nil, errors.New("usecase: outbox must not be nil")
	}
	if opts.Thresholds.MinQuantity < 0 || opts.Thresholds.MinUnitPrice < 0 {
		return nil, newError(ErrorInvalidInput, "negative_threshold", nil)
	}
	listCommand := strings.TrimSpace(opts.ListCommand)
	if listCommand == "" {
		listCommand = DefaultListCommand
	}
	acceptLabel := strings.TrimSpace(opts.AcceptLabel)
	if acceptLabel == "" {
		acceptLabel = DefaultAcceptLabel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		transport:   t,
		outbox:      ob,
		journal:     opts.Journal,
		pool:        extractor.NewPool(opts.ParseWorkers),
		logger:      logger,
		now:         now,
		listCommand: listCommand,
		acceptLabel: acceptLabel,
		thresholds:  opts.Thresholds,
		ledger:      ledger.New(),
		slots:       slots.New(opts.SlotExpiry),
		machine:     negotiation.New(),
	}, nil
}

// SetThresholds replaces the eligibility minimums for subsequent offer lists.
func (d *Dispatcher) SetThresholds(t domain.Thresholds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.thresholds = t
	d.logger.Info("thresholds updated", "min_quantity", t.MinQuantity, "min_unit_price", t.MinUnitPrice)
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.machine.Snapshot()
	messages, offers := d.ledger.Len()
	return State{
		Phase:            snap.Phase,
		NegotiationID:    snap.NegotiationID,
		Offer:            snap.Offer,
		Thresholds:       d.thresholds,
		SeenMessages:     messages,
		AcceptedOffers:   offers,
		PendingQuestions: d.pendingQuestions(),
	}
}

func (d *Dispatcher) pendingQuestions() []domain.QuestionKind {
	var kinds []domain.QuestionKind
	now := d.now()
	for _, kind := range []domain.QuestionKind{domain.QuestionQuantity, domain.QuestionPrice} {
		if q, ok := d.slots.Peek(kind); ok && now.Sub(q.ObservedAt) <= d.slots.Expiry() {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Handle processes one inbound message. Failures of individual steps are
// logged, not returned; the only error is ctx ending while an order list is
// being parsed. A message is marked seen only once it was fully processed,
// so a redelivery after such an error is evaluated again.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.Message) (Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log := d.logger.With("message_id", msg.ID)
	if d.ledger.SeenMessage(msg.ID) {
		log.Debug("duplicate message ignored")
		return OutcomeDuplicate, nil
	}
	out, err := d.route(ctx, log, msg)
	if err != nil {
		log.Warn("message not processed, left for redelivery", "err", err)
		return out, err
	}
	d.ledger.MarkSeenMessage(msg.ID)
	return out, nil
}

// route runs one unseen message through the pipeline. Callers hold d.mu.
func (d *Dispatcher) route(ctx context.Context, log *slog.Logger, msg domain.Message) (Outcome, error) {
	// Questions are recorded before any phase check so one that arrives ahead
	// of the commit is still available afterwards.
	kind := extractor.ClassifyQuestion(msg.Text)
	if kind != domain.QuestionNone {
		d.slots.Record(kind, msg, d.now())
		log.Debug("question recorded", "kind", kind.String(), "phase", d.machine.Phase().String())
	}

	phase := d.machine.Phase()
	switch {
	case phase == domain.PhaseAwaitingQuantity && kind == domain.QuestionQuantity:
		d.slots.Discard(domain.QuestionQuantity)
		d.answerQuantity(log)
		return OutcomeAnsweredQuantity, nil
	case phase == domain.PhaseAwaitingPrice && kind == domain.QuestionPrice:
		d.slots.Discard(domain.QuestionPrice)
		d.answerPrice(log)
		return OutcomeAnsweredPrice, nil
	}

	if extractor.IsNewOfferNotification(msg.Text) {
		if phase != domain.PhaseIdle {
			log.Info("order list request suppressed, negotiation in flight", "phase", phase.String())
			return OutcomeSuppressed, nil
		}
		d.outbox.Enqueue(outbox.Task{
			Name:  "request_list",
			Attrs: []any{"message_id", msg.ID},
			Run: func(ctx context.Context) error {
				if err := d.transport.SendText(ctx, d.listCommand); err != nil {
					return transportError("request_list_failed", err)
				}
				return nil
			},
		})
		log.Info("order list requested")
		return OutcomeListRequested, nil
	}

	if extractor.IsOfferList(msg.Text) {
		if phase != domain.PhaseIdle {
			log.Info("order list ignored, negotiation in flight", "phase", phase.String())
			return OutcomeSuppressed, nil
		}
		return d.evaluateOffers(ctx, log, msg)
	}

	if kind == domain.QuestionNone {
		log.Debug("unclassified message dropped")
	}
	return OutcomeDropped, nil
}

type candidate struct {
	index int
	block string
}

// evaluateOffers commits to the first eligible block of an order list.
func (d *Dispatcher) evaluateOffers(ctx context.Context, log *slog.Logger, msg domain.Message) (Outcome, error) {
	blocks := extractor.SplitBlocks(msg.Text)
	log.Info("order list received", "blocks", len(blocks))

	candidates := make([]candidate, 0, len(blocks))
	for i, block := range blocks {
		if extractor.HasCompetingOffer(block) {
			log.Debug("block skipped, competing offer present", "block", i)
			continue
		}
		if !extractor.HasNoOffersMarker(block) {
			log.Debug("block skipped, no-offers marker missing", "block", i)
			continue
		}
		candidates = append(candidates, candidate{index: i, block: block})
	}
	if len(candidates) == 0 {
		return OutcomeNoEligibleOffer, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.block
	}
	parsed, err := d.pool.ParseAll(ctx, texts)
	if err != nil {
		return OutcomeDropped, err
	}

	refs := extractor.AcceptRefs(msg.Affordances, d.acceptLabel)
	for i, c := range candidates {
		if !parsed[i].OK {
			log.Debug("block skipped, not an offer", "block", c.index)
			continue
		}
		offer := parsed[i].Offer
		olog := log.With("offer_id", offer.ID, "quantity", offer.Quantity, "unit_price", offer.UnitPrice)
		if offer.Anonymous() {
			olog.Debug("anonymous offer, dedup not applicable")
		} else if d.ledger.Accepted(offer.ID) {
			olog.Info("offer skipped, already accepted")
			continue
		}
		if !d.thresholds.Admits(offer) {
			olog.Info("offer skipped, below thresholds",
				"min_quantity", d.thresholds.MinQuantity, "min_unit_price", d.thresholds.MinUnitPrice)
			continue
		}
		ref, ok := pickAcceptRef(refs, c.index, len(blocks))
		if !ok {
			olog.Warn("accept affordance not found, offer not taken")
			return OutcomeNoEligibleOffer, nil
		}
		if !d.commit(olog, msg.ID, offer, ref) {
			return OutcomeNoEligibleOffer, nil
		}
		return OutcomeAccepted, nil
	}
	return OutcomeNoEligibleOffer, nil
}

// pickAcceptRef uses the block's own affordance when the message carries one
// per block, otherwise the first one.
func pickAcceptRef(refs []string, index, blocks int) (string, bool) {
	if len(refs) == 0 {
		return "", false
	}
	if len(refs) == blocks {
		return refs[index], true
	}
	return refs[0], true
}

func (d *Dispatcher) commit(log *slog.Logger, messageID string, offer domain.OfferRecord, ref string) bool {
	negotiationID := newUUID()
	if err := d.machine.Commit(offer, negotiationID); err != nil {
		log.Error("commit rejected", "err", newError(ErrorInvariant, "commit_while_in_flight", err))
		return false
	}
	if !offer.Anonymous() {
		d.ledger.MarkAccepted(offer.ID)
	}
	// A price question can only belong to this negotiation once the quantity
	// has been answered.
	d.slots.Discard(domain.QuestionPrice)
	log = log.With("negotiation_id", negotiationID)

	d.outbox.Enqueue(outbox.Task{
		Name:  "accept",
		Attrs: []any{"negotiation_id", negotiationID, "offer_id", offer.ID},
		Run: func(ctx context.Context) error {
			if err := d.transport.TriggerAccept(ctx, ref); err != nil {
				return transportError("accept_failed", err)
			}
			return nil
		},
	})
	if d.journal != nil {
		acceptance := domain.Acceptance{
			NegotiationID: negotiationID,
			Offer:         offer,
			MessageID:     messageID,
			AcceptedAt:    d.now().UTC(),
		}
		d.outbox.Enqueue(outbox.Task{
			Name:  "journal_acceptance",
			Attrs: []any{"negotiation_id", negotiationID},
			Run: func(ctx context.Context) error {
				if err := d.journal.RecordAcceptance(ctx, acceptance); err != nil {
					return newError(ErrorJournal, "record_acceptance_failed", err)
				}
				return nil
			},
		})
	}
	log.Info("offer accepted")

	if _, ok := d.slots.TakeIfFresh(domain.QuestionQuantity, d.now()); ok {
		log.Info("quantity question arrived before commit, answering now")
		d.answerQuantity(log)
	}
	return true
}

func (d *Dispatcher) answerQuantity(log *slog.Logger) {
	answer, err := d.machine.AnswerQuantity()
	if err != nil {
		log.Error("quantity answer rejected", "err", newError(ErrorInvariant, "answer_quantity", err))
		return
	}
	d.sendAnswer(log, answer)

	if _, ok := d.slots.TakeIfFresh(domain.QuestionPrice, d.now()); ok {
		log.Info("price question arrived early, answering now", "negotiation_id", answer.NegotiationID)
		d.answerPrice(log)
	}
}

func (d *Dispatcher) answerPrice(log *slog.Logger) {
	answer, err := d.machine.AnswerPrice()
	if err != nil {
		log.Error("price answer rejected", "err", newError(ErrorInvariant, "answer_price", err))
		return
	}
	d.sendAnswer(log, answer)
	log.Info("negotiation complete", "negotiation_id", answer.NegotiationID, "offer_id", answer.Offer.ID)
}

// sendAnswer schedules the reply; the phase has already advanced and stays
// advanced even if the send fails.
func (d *Dispatcher) sendAnswer(log *slog.Logger, a negotiation.Answer) {
	kind := a.Kind.String()
	d.outbox.Enqueue(outbox.Task{
		Name:  "answer_" + kind,
		Attrs: []any{"negotiation_id", a.NegotiationID, "answer", a.Text},
		Run: func(ctx context.Context) error {
			if err := d.transport.SendText(ctx, a.Text); err != nil {
				return transportError("send_answer_failed", err)
			}
			return nil
		},
	})
	log.Info("answer scheduled", "kind", kind, "answer", a.Text, "negotiation_id", a.NegotiationID)

	if d.journal == nil {
		return
	}
	record := domain.AnswerRecord{
		NegotiationID: a.NegotiationID,
		Kind:          a.Kind,
		Text:          a.Text,
		SentAt:        d.now().UTC(),
	}
	d.outbox.Enqueue(outbox.Task{
		Name:  "journal_answer",
		Attrs: []any{"negotiation_id", a.NegotiationID, "kind", kind},
		Run: func(ctx context.Context) error {
			if err := d.journal.RecordAnswer(ctx, record); err != nil {
				return newError(ErrorJournal, "record_answer_failed", err)
			}
			return nil
		},
	})
}

var newUUID = func() string {
	return uuid.NewString()
}

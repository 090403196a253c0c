// Package handler is the HTTP edge the chat sidecar calls. It turns sidecar
// posts into domain messages for the single registered consumer and exposes a
// read-only view of the negotiation.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"autograb/internal/domain"
	"autograb/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 256 << 10

	codeInternal = "INTERNAL"
	codeNotReady = "NOT_READY"
)

// StateReader reports the automaton state.
type StateReader interface {
	State() usecase.State
}

type inboundRequest struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Text        string              `json:"text"`
	Affordances []domain.Affordance `json:"affordances"`
}

type inboundResponse struct {
	Outcome string `json:"outcome"`
}

type offerView struct {
	ID        string  `json:"id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type stateResponse struct {
	Phase          string     `json:"phase"`
	NegotiationID  string     `json:"negotiation_id,omitempty"`
	Offer          *offerView `json:"offer,omitempty"`
	MinQuantity    float64    `json:"min_quantity"`
	MinUnitPrice   float64    `json:"min_unit_price"`
	SeenMessages   int        `json:"seen_messages"`
	AcceptedOffers int        `json:"accepted_offers"`
	Pending        []string   `json:"pending_questions,omitempty"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// Handler serves the sidecar API.
type Handler struct {
	peer   string
	state  StateReader
	logger *slog.Logger

	mu      sync.RWMutex
	consume usecase.MessageFunc
}

// NewHandler accepts inbound messages only when they come from peer.
func NewHandler(peer string, state StateReader, logger *slog.Logger) (*Handler, error) {
	peer = normalizePeer(peer)
	if peer == "" {
		return nil, errors.New("handler: peer must not be empty")
	}
	if state == nil {
		return nil, errors.New("handler: state reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{peer: peer, state: state, logger: logger}, nil
}

// OnMessage registers the consumer. Only one may be registered.
func (h *Handler) OnMessage(fn usecase.MessageFunc) error {
	if fn == nil {
		return errors.New("handler: message func must not be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consume != nil {
		return usecase.ErrHandlerRegistered
	}
	h.consume = fn
	return nil
}

// Routes returns the HTTP routes served to the sidecar.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/inbound", h.handleInbound)
	mux.HandleFunc("GET /v1/state", h.handleState)
	return mux
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	correlationID := correlationIDFrom(r)
	w.Header().Set(correlationHeader, correlationID)
	log := h.logger.With("correlation_id", correlationID)

	h.mu.RLock()
	consume := h.consume
	h.mu.RUnlock()
	if consume == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: codeNotReady})
		return
	}

	var in inboundRequest
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&in); err != nil {
		log.Warn("invalid inbound body", "err", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
		return
	}
	if strings.TrimSpace(in.ID) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "missing_id"})
		return
	}
	if normalizePeer(in.From) != h.peer {
		log.Debug("message from other peer ignored", "from", in.From, "message_id", in.ID)
		writeJSON(w, http.StatusAccepted, inboundResponse{Outcome: "ignored"})
		return
	}

	outcome, err := consume(r.Context(), domain.Message{
		ID:          in.ID,
		From:        in.From,
		Text:        in.Text,
		Affordances: in.Affordances,
	})
	if err != nil {
		status, resp := mapError(err)
		log.Error("inbound message failed", "message_id", in.ID, "err", err)
		writeJSON(w, status, resp)
		return
	}
	log.Debug("inbound message handled", "message_id", in.ID, "outcome", string(outcome))
	writeJSON(w, http.StatusOK, inboundResponse{Outcome: string(outcome)})
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request) {
	s := h.state.State()
	resp := stateResponse{
		Phase:          s.Phase.String(),
		NegotiationID:  s.NegotiationID,
		MinQuantity:    s.Thresholds.MinQuantity,
		MinUnitPrice:   s.Thresholds.MinUnitPrice,
		SeenMessages:   s.SeenMessages,
		AcceptedOffers: s.AcceptedOffers,
	}
	for _, kind := range s.PendingQuestions {
		resp.Pending = append(resp.Pending, kind.String())
	}
	if s.Offer != nil {
		resp.Offer = &offerView{ID: s.Offer.ID, Quantity: s.Offer.Quantity, UnitPrice: s.Offer.UnitPrice}
	}
	writeJSON(w, http.StatusOK, resp)
}

func mapError(err error) (int, errorResponse) {
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		resp := errorResponse{Error: string(ucErr.Code), Reason: ucErr.Reason}
		switch ucErr.Code {
		case usecase.ErrorInvalidInput:
			return http.StatusBadRequest, resp
		case usecase.ErrorRateLimited:
			return http.StatusTooManyRequests, resp
		case usecase.ErrorTransport:
			return http.StatusBadGateway, resp
		default:
			return http.StatusInternalServerError, resp
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable, errorResponse{Error: codeNotReady, Reason: "canceled"}
	}
	return http.StatusInternalServerError, errorResponse{Error: codeInternal}
}

func correlationIDFrom(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(correlationHeader)); v != "" {
		return v
	}
	return uuid.NewString()
}

// normalizePeer makes "@Orders_Bot" and "orders_bot" compare equal.
func normalizePeer(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

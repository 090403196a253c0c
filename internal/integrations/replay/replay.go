// Package replay drives the automaton from a recorded JSONL transcript and
// records outbound actions instead of sending them. It is used for dry runs.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"autograb/internal/domain"
	"autograb/internal/usecase"
)

const maxLineBytes = 1 << 20

// Entry is one transcript line.
type Entry struct {
	ID          string              `json:"id"`
	From        string              `json:"from,omitempty"`
	Text        string              `json:"text"`
	Affordances []domain.Affordance `json:"affordances,omitempty"`
	// DelayMS is waited before the entry is delivered.
	DelayMS int `json:"delay_ms,omitempty"`
}

// Summary counts what happened to the replayed messages.
type Summary struct {
	Messages int
	Outcomes map[usecase.Outcome]int
}

// Source delivers transcript entries to one registered consumer.
type Source struct {
	r      io.Reader
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	consume usecase.MessageFunc
}

func NewSource(r io.Reader, logger *slog.Logger) (*Source, error) {
	if r == nil {
		return nil, errors.New("replay: reader must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{r: r, logger: logger, sleep: sleepCtx}, nil
}

// OnMessage registers the consumer. Only one may be registered.
func (s *Source) OnMessage(fn usecase.MessageFunc) error {
	if fn == nil {
		return errors.New("replay: message func must not be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consume != nil {
		return usecase.ErrHandlerRegistered
	}
	s.consume = fn
	return nil
}

// Run delivers every entry in order and returns when the transcript ends or
// ctx is done. Blank lines and lines starting with # are skipped.
func (s *Source) Run(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	consume := s.consume
	s.mu.Unlock()
	summary := Summary{Outcomes: map[usecase.Outcome]int{}}
	if consume == nil {
		return summary, errors.New("replay: no message handler registered")
	}

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return summary, fmt.Errorf("replay: line %d: %w", line, err)
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("line-%d", line)
		}
		if e.DelayMS > 0 {
			if err := s.sleep(ctx, time.Duration(e.DelayMS)*time.Millisecond); err != nil {
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		outcome, err := consume(ctx, domain.Message{ID: e.ID, From: e.From, Text: e.Text, Affordances: e.Affordances})
		if err != nil {
			return summary, fmt.Errorf("replay: line %d: %w", line, err)
		}
		summary.Messages++
		summary.Outcomes[outcome]++
		s.logger.Debug("replayed message", "line", line, "message_id", e.ID, "outcome", string(outcome))
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("replay: read transcript: %w", err)
	}
	return summary, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Action is one recorded outbound call.
type Action struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

// Recorder stands in for the chat transport and writes each outbound call as
// a JSON line.
type Recorder struct {
	mu      sync.Mutex
	enc     *json.Encoder
	actions []Action
}

func NewRecorder(w io.Writer) *Recorder {
	if w == nil {
		w = io.Discard
	}
	return &Recorder{enc: json.NewEncoder(w)}
}

func (r *Recorder) SendText(_ context.Context, text string) error {
	return r.record(Action{Action: "send_text", Text: text})
}

func (r *Recorder) TriggerAccept(_ context.Context, ref string) error {
	return r.record(Action{Action: "trigger_accept", Ref: ref})
}

// Actions returns everything recorded so far.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Action(nil), r.actions...)
}

func (r *Recorder) record(a Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	if err := r.enc.Encode(a); err != nil {
		return fmt.Errorf("replay: write action: %w", err)
	}
	return nil
}

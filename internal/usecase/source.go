package usecase

import (
	"context"
	"errors"

	"autograb/internal/domain"
)

// ErrHandlerRegistered is returned when a message source already has its
// consumer.
var ErrHandlerRegistered = errors.New("usecase: message handler already registered")

// MessageFunc consumes one inbound message. (*Dispatcher).Handle satisfies it.
type MessageFunc func(ctx context.Context, msg domain.Message) (Outcome, error)

package service

import (
	"context"
	"errors"
	"fmt"

	"dronesim/internal/domain"
)

// EventSink receives simulation events addressed to an order's room.
type EventSink interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// FanoutSink publishes every event to all of its sinks. A failing sink does
// not prevent delivery to the others.
type FanoutSink []EventSink

// Publish delivers the event to each sink and joins their errors.
func (f FanoutSink) Publish(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrBroadcastFailure, errors.Join(errs...))
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, evt domain.Event) error

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, evt domain.Event) error {
	return f(ctx, evt)
}

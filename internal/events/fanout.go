package events

import (
	"context"
	"errors"
)

// FanOut delivers each entry to every handler. An entry counts as delivered
// only when all handlers succeed, so a failed sink is retried on the next
// drain; sinks must therefore tolerate duplicates.
type FanOut []DeliveryHandler

func (f FanOut) Handle(ctx context.Context, entry OutboxEntry) error {
	var errs []error
	for _, h := range f {
		if h == nil {
			continue
		}
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TypeFilter only passes entries of the listed types to Next.
type TypeFilter struct {
	Types []string
	Next  DeliveryHandler
}

func (t TypeFilter) Handle(ctx context.Context, entry OutboxEntry) error {
	for _, typ := range t.Types {
		if typ == entry.Type {
			return t.Next.Handle(ctx, entry)
		}
	}
	return nil
}

// LogSink is a DeliveryHandler that drops entries; used when no queue is configured.
type LogSink struct{}

func (LogSink) Handle(context.Context, OutboxEntry) error { return nil }

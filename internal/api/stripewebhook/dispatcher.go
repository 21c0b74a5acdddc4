package stripewebhooks

import (
	"context"

	"github.com/stripe/stripe-go/v75"

	"billing-engine/internal/domain/events"
	"billing-engine/internal/logger"
)

// HandlerFunc processes one admitted event. It gets the ledger row so it can
// attach trace references (org, subscription, order) for the finalize step.
// Handlers may run more than once for the same logical event, so every side
// effect inside must be idempotent on its own.
type HandlerFunc func(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error

// Dispatcher routes by declared event type. Types nobody registered are
// logged and acknowledged; the ledger row still exists, so nothing is lost
// when Stripe adds event types we don't know yet.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	log      *logger.Logger
}

func NewDispatcher(log *logger.Logger) *Dispatcher {
	return &Dispatcher{handlers: map[string]HandlerFunc{}, log: log}
}

func (d *Dispatcher) Register(eventType string, fn HandlerFunc) {
	d.handlers[eventType] = fn
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev *events.BillingEvent, event *stripe.Event) error {
	fn, ok := d.handlers[string(event.Type)]
	if !ok {
		d.log.Infow("unhandled event type recorded", "type", event.Type, "event_id", event.ID)
		return nil
	}
	return fn(ctx, ev, event)
}

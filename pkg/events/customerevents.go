package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// EventType names a customer change.
type EventType string

const (
	CustomerCreated EventType = "customer.created"
	CustomerUpdated EventType = "customer.updated"
	CustomerDeleted EventType = "customer.deleted"
)

// Message attribute keys.
const (
	AttrEventType  = "event_type"
	AttrCustomerID = "customer_id"
)

// CustomerEvent is the JSON payload of a customer change message.
type CustomerEvent struct {
	Type       EventType      `json:"type"`
	Customer   types.Customer `json:"customer"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// CustomerEvents encodes customer changes and hands them to a Publisher.
type CustomerEvents struct {
	publisher Publisher
	clock     clockwork.Clock
	logger    zerolog.Logger
}

// NewCustomerEvents creates an emitter on publisher. A nil publisher discards events.
func NewCustomerEvents(publisher Publisher, clock clockwork.Clock, logger zerolog.Logger) *CustomerEvents {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CustomerEvents{
		publisher: publisher,
		clock:     clock,
		logger:    logger.With().Str("component", "CustomerEvents").Logger(),
	}
}

// Emit publishes an event of type t for c.
func (e *CustomerEvents) Emit(ctx context.Context, t EventType, c types.Customer) error {
	payload, err := json.Marshal(CustomerEvent{Type: t, Customer: c, OccurredAt: e.clock.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode customer event")
	}
	attrs := map[string]string{
		AttrEventType:  string(t),
		AttrCustomerID: strconv.FormatInt(c.ID, 10),
	}
	if err := e.publisher.Publish(ctx, payload, attrs); err != nil {
		return errors.Wrapf(err, errors.CodePublishFailed, "failed to publish %s", t)
	}
	e.logger.Debug().Str("event_type", string(t)).Int64("customer_id", c.ID).Msg("Customer event queued.")
	return nil
}

// Stop flushes the underlying publisher.
func (e *CustomerEvents) Stop(ctx context.Context) error {
	return e.publisher.Stop(ctx)
}

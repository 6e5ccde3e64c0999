// Package service holds the customer write workflows: map client input onto a
// customer, apply it through the cache manager and announce the change.
package service

import (
	"context"

	"github.com/illmade-knight/go-customer-registry/pkg/events"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// CustomerWriter is the part of the cache manager the service writes through.
type CustomerWriter interface {
	AddUniqueCustomer(ctx context.Context, c types.Customer) (types.Customer, error)
	UpdateCustomer(ctx context.Context, c types.Customer) (types.Customer, error)
	DeleteCustomer(ctx context.Context, c types.Customer) error
}

// EventEmitter announces customer changes.
type EventEmitter interface {
	Emit(ctx context.Context, t events.EventType, c types.Customer) error
}

// CustomerService applies customer mutations. Events are best-effort: a failed
// emit is logged and never fails the mutation that already happened.
type CustomerService struct {
	writer CustomerWriter
	events EventEmitter
	clock  clockwork.Clock
	logger zerolog.Logger
}

// NewCustomerService creates a CustomerService. A nil clock uses the real clock.
func NewCustomerService(writer CustomerWriter, emitter EventEmitter, clock clockwork.Clock, logger zerolog.Logger) *CustomerService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CustomerService{
		writer: writer,
		events: emitter,
		clock:  clock,
		logger: logger.With().Str("component", "CustomerService").Logger(),
	}
}

// AddCustomer creates a customer from in. The name check and the insert are a
// single step, so a concurrent duplicate fails with CodeAlreadyExists.
func (s *CustomerService) AddCustomer(ctx context.Context, in types.CustomerInput) (types.Customer, error) {
	added, err := s.writer.AddUniqueCustomer(ctx, in.ToCustomer(s.clock.Now().UTC()))
	if err != nil {
		return types.Customer{}, err
	}
	s.emit(ctx, events.CustomerCreated, added)
	return added, nil
}

// UpdateCustomer applies in to existing.
func (s *CustomerService) UpdateCustomer(ctx context.Context, in types.CustomerInput, existing types.Customer) (types.Customer, error) {
	updated, err := s.writer.UpdateCustomer(ctx, in.ApplyTo(existing, s.clock.Now().UTC()))
	if err != nil {
		return types.Customer{}, err
	}
	s.emit(ctx, events.CustomerUpdated, updated)
	return updated, nil
}

// DeleteCustomer removes existing.
func (s *CustomerService) DeleteCustomer(ctx context.Context, existing types.Customer) error {
	if err := s.writer.DeleteCustomer(ctx, existing); err != nil {
		return err
	}
	s.emit(ctx, events.CustomerDeleted, existing)
	return nil
}

func (s *CustomerService) emit(ctx context.Context, t events.EventType, c types.Customer) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, t, c); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(t)).Int64("customer_id", c.ID).Msg("Failed to emit customer event.")
	}
}

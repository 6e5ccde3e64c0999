package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jonboulle/clockwork"
)

// InMemoryRepository is a thread-safe, map-backed CustomerRepository.
// It is primarily intended for local development and testing.
type InMemoryRepository struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	nextID int64
	data   map[int64]types.Customer
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository(clock clockwork.Clock) *InMemoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryRepository{
		clock: clock,
		data:  make(map[int64]types.Customer),
	}
}

// GetCustomers returns every customer ordered by ID.
func (r *InMemoryRepository) GetCustomers(_ context.Context) ([]types.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Customer, 0, len(r.data))
	for _, c := range r.data {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddCustomer stores c under the next free ID.
func (r *InMemoryRepository) AddCustomer(_ context.Context, c types.Customer) (types.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(c, 0) {
		return types.Customer{}, duplicateNameError(nil, c)
	}
	now := r.clock.Now()
	if c.Created.IsZero() {
		c.Created = now
	}
	c.Updated = now
	r.nextID++
	c.ID = r.nextID
	r.data[c.ID] = c
	return c, nil
}

// UpdateCustomer rewrites an existing customer, keeping its Created time.
func (r *InMemoryRepository) UpdateCustomer(_ context.Context, c types.Customer) (types.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.data[c.ID]
	if !ok {
		return types.Customer{}, notFoundError(c.ID)
	}
	if r.nameTaken(c, c.ID) {
		return types.Customer{}, duplicateNameError(nil, c)
	}
	c.Created = existing.Created
	c.Updated = r.clock.Now()
	r.data[c.ID] = c
	return c, nil
}

// DeleteCustomer removes c by ID.
func (r *InMemoryRepository) DeleteCustomer(_ context.Context, c types.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[c.ID]; !ok {
		return notFoundError(c.ID)
	}
	delete(r.data, c.ID)
	return nil
}

// nameTaken reports whether another customer (not exceptID) already uses c's name.
func (r *InMemoryRepository) nameTaken(c types.Customer, exceptID int64) bool {
	for id, existing := range r.data {
		if id != exceptID && existing.SameName(c.FirstName, c.LastName) {
			return true
		}
	}
	return false
}

var _ CustomerRepository = (*InMemoryRepository)(nil)

// Package customercache keeps an in-process mirror of the customer collection
// in front of a CustomerRepository. Reads populate the mirror on a miss and
// writes go to the repository first, then to the mirror.
package customercache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/cache"
	"github.com/illmade-knight/go-customer-registry/pkg/repository"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CustomersKey is the cache key holding the whole customer collection.
const CustomersKey = "_Customers"

// DefaultPolicy is applied every time the collection is (re)populated.
var DefaultPolicy = cache.Policy{
	AbsoluteExpiration: 5 * time.Minute,
	SlidingExpiration:  2 * time.Minute,
	Size:               1,
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p cache.Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// Manager is the read-through / write-through facade over the customer collection.
//
// Lookups of a live entry take no manager lock. Population is coalesced with
// singleflight and runs under mu, as does every mutation, so a population never
// interleaves with an add, update or delete.
type Manager struct {
	repo   repository.CustomerRepository
	store  cache.Store[[]types.Customer]
	policy cache.Policy
	logger zerolog.Logger

	mu     sync.Mutex
	flight singleflight.Group
}

// New creates a Manager over repo, mirroring the collection into store.
func New(repo repository.CustomerRepository, store cache.Store[[]types.Customer], logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:   repo,
		store:  store,
		policy: DefaultPolicy,
		logger: logger.With().Str("component", "CustomerCacheManager").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetCustomers returns every customer, populating the cache on a miss.
func (m *Manager) GetCustomers(ctx context.Context) ([]types.Customer, error) {
	customers, err := m.customers(ctx)
	if err != nil {
		return nil, m.fail(err, opGetCustomers)
	}
	return customers, nil
}

// GetCustomer returns the customer with the given id. A missing customer is
// reported with false and a nil error.
func (m *Manager) GetCustomer(ctx context.Context, id int64) (types.Customer, bool, error) {
	customers, err := m.customers(ctx)
	if err != nil {
		return types.Customer{}, false, m.fail(err, opGetCustomer)
	}
	for _, c := range customers {
		if c.ID == id {
			return c, true, nil
		}
	}
	return types.Customer{}, false, nil
}

// UniqueCustomer reports whether no cached customer carries exactly this name.
//
// The answer is advisory: use AddUniqueCustomer to check and insert atomically.
func (m *Manager) UniqueCustomer(ctx context.Context, firstName, lastName string) (bool, error) {
	customers, err := m.customers(ctx)
	if err != nil {
		return false, m.fail(err, opUniqueCustomer)
	}
	return !nameTaken(customers, firstName, lastName, 0), nil
}

// AddCustomer persists c and reflects it in the cache. If the cache update
// fails after the insert succeeded, the insert is not rolled back.
func (m *Manager) AddCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added, err := m.addLocked(ctx, c)
	if err != nil {
		return types.Customer{}, m.fail(err, opAddCustomer)
	}
	return added, nil
}

// AddUniqueCustomer checks the name against the cached collection and adds c
// in one critical section. A taken name fails with CodeAlreadyExists without
// contacting the repository.
func (m *Manager) AddUniqueCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customers, err := m.populateLocked(ctx)
	if err != nil {
		return types.Customer{}, m.fail(err, opAddCustomer)
	}
	if nameTaken(customers, c.FirstName, c.LastName, 0) {
		return types.Customer{}, m.fail(alreadyExists(c), opAddCustomer)
	}
	added, err := m.addLocked(ctx, c)
	if err != nil {
		return types.Customer{}, m.fail(err, opAddCustomer)
	}
	return added, nil
}

// UpdateCustomer persists c and replaces the cached element with the same ID.
// Renaming c to a name held by another customer fails with CodeAlreadyExists.
func (m *Manager) UpdateCustomer(ctx context.Context, c types.Customer) (types.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	customers, err := m.populateLocked(ctx)
	if err != nil {
		return types.Customer{}, m.fail(err, opUpdateCustomer)
	}
	if nameTaken(customers, c.FirstName, c.LastName, c.ID) {
		return types.Customer{}, m.fail(alreadyExists(c), opUpdateCustomer)
	}

	updated, err := m.repo.UpdateCustomer(ctx, c)
	if err != nil {
		return types.Customer{}, m.fail(err, opUpdateCustomer)
	}
	err = m.mutateLocked(ctx, func(cached []types.Customer) ([]types.Customer, bool) {
		i := slices.IndexFunc(cached, func(x types.Customer) bool { return x.ID == updated.ID })
		if i < 0 {
			return nil, false
		}
		cached[i] = updated
		return cached, true
	})
	if err != nil {
		return types.Customer{}, m.fail(err, opUpdateCustomer)
	}
	return updated, nil
}

// DeleteCustomer removes c from the repository and invalidates the cache.
// The cache is invalidated even when the delete fails.
func (m *Manager) DeleteCustomer(ctx context.Context, c types.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.repo.DeleteCustomer(ctx, c)
	if rmErr := m.store.Remove(ctx, CustomersKey); rmErr != nil {
		m.logger.Warn().Err(rmErr).Msg("Failed to invalidate customer cache after delete.")
		if err == nil {
			err = cacheError(rmErr)
		}
	}
	if err != nil {
		return m.fail(err, opDeleteCustomer)
	}
	return nil
}

// Invalidate drops the cached collection; the next read repopulates it.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Remove(ctx, CustomersKey); err != nil {
		return m.fail(cacheError(err), opInvalidate)
	}
	m.logger.Debug().Msg("Customer cache invalidated.")
	return nil
}

// customers returns a private copy of the collection, populating it on a miss.
func (m *Manager) customers(ctx context.Context) ([]types.Customer, error) {
	cached, ok, err := m.store.TryGet(ctx, CustomersKey)
	if err != nil {
		return nil, cacheError(err)
	}
	if ok {
		m.logger.Debug().Int("count", len(cached)).Msg("Customer cache hit.")
		return slices.Clone(cached), nil
	}

	m.logger.Debug().Msg("Customer cache miss.")
	// The population outlives any single waiter's cancellation.
	popCtx := context.WithoutCancel(ctx)
	v, err, _ := m.flight.Do(CustomersKey, func() (interface{}, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.populateLocked(popCtx)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]types.Customer)), nil
}

// populateLocked returns the live collection, fetching and storing it when the
// entry is absent. The result must not be modified. Callers hold mu.
func (m *Manager) populateLocked(ctx context.Context) ([]types.Customer, error) {
	cached, ok, err := m.store.TryGet(ctx, CustomersKey)
	if err != nil {
		return nil, cacheError(err)
	}
	if ok {
		return cached, nil
	}

	fetched, err := m.repo.GetCustomers(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, CustomersKey, slices.Clone(fetched), m.policy); err != nil {
		return nil, cacheError(err)
	}
	m.logger.Info().Int("count", len(fetched)).Msg("Customer cache populated.")
	return fetched, nil
}

// addLocked persists c and appends it to the cached collection. Callers hold mu.
func (m *Manager) addLocked(ctx context.Context, c types.Customer) (types.Customer, error) {
	added, err := m.repo.AddCustomer(ctx, c)
	if err != nil {
		return types.Customer{}, err
	}
	err = m.mutateLocked(ctx, func(cached []types.Customer) ([]types.Customer, bool) {
		return append(cached, added), true
	})
	if err != nil {
		return types.Customer{}, err
	}
	m.logger.Debug().Int64("customer_id", added.ID).Msg("Customer added.")
	return added, nil
}

// mutateLocked applies fn to a copy of the live collection and writes it back
// under the entry's original policy. When there is no live entry, or fn cannot
// apply its change, the collection is repopulated from the repository instead,
// which already holds the change. Callers hold mu.
func (m *Manager) mutateLocked(ctx context.Context, fn func([]types.Customer) ([]types.Customer, bool)) error {
	cached, ok, err := m.store.TryGet(ctx, CustomersKey)
	if err != nil {
		return cacheError(err)
	}
	if ok {
		if next, applied := fn(slices.Clone(cached)); applied {
			replaced, err := m.store.Replace(ctx, CustomersKey, next)
			if err != nil {
				return cacheError(err)
			}
			if replaced {
				return nil
			}
		}
		if err := m.store.Remove(ctx, CustomersKey); err != nil {
			return cacheError(err)
		}
	}
	_, err = m.populateLocked(ctx)
	return err
}

func nameTaken(customers []types.Customer, firstName, lastName string, exceptID int64) bool {
	for _, c := range customers {
		if c.ID != exceptID && c.SameName(firstName, lastName) {
			return true
		}
	}
	return false
}

func alreadyExists(c types.Customer) error {
	return errors.Newf(errors.CodeAlreadyExists, "customer first and last name (%s %s) already exists", c.FirstName, c.LastName)
}

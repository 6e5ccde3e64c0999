package customercache

import (
	"github.com/jmgilman/go/errors"
)

// Operation tags, used in log messages and as the message of returned errors.
const (
	opGetCustomers   = "retrieving all cached customers"
	opGetCustomer    = "retrieving a cached customer by id"
	opAddCustomer    = "saving customer to cache"
	opUniqueCustomer = "checking customer name in cache"
	opUpdateCustomer = "updating customer in cache"
	opDeleteCustomer = "deleting customer from cache"
	opInvalidate     = "invalidating customer cache"
)

// fail logs err once under the operation tag and returns it wrapped.
//
// ALREADY_EXISTS and NOT_FOUND are outcomes the caller acts on, so they are
// returned as they are. Cache failures keep CodeInternal; everything else is a
// store failure (CodeDatabase). The cause stays reachable with errors.Is.
func (m *Manager) fail(err error, op string) error {
	code := errors.GetCode(err)
	switch code {
	case errors.CodeAlreadyExists, errors.CodeNotFound:
		m.logger.Warn().Err(err).Str("op", op).Msgf("Error %s.", op)
		return err
	case errors.CodeInternal:
	default:
		code = errors.CodeDatabase
	}
	m.logger.Error().Err(err).Str("op", op).Msgf("Error %s.", op)
	return errors.Wrap(err, code, op)
}

func cacheError(err error) error {
	if errors.GetCode(err) == errors.CodeInternal {
		return err
	}
	return errors.Wrap(err, errors.CodeInternal, "customer cache store failure")
}

// Package repository provides the persistent stores behind the customer registry.
package repository

import (
	"context"

	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
)

// CustomerRepository is the durable source of truth for customers.
//
// Implementations return coded errors: CodeAlreadyExists when the
// (FirstName, LastName) pair is already taken, CodeNotFound when an update or
// delete targets a missing customer, and CodeDatabase for everything else.
type CustomerRepository interface {
	// GetCustomers returns every customer ordered by ID.
	GetCustomers(ctx context.Context) ([]types.Customer, error)
	// AddCustomer inserts c, assigning its ID. Created is set if it is zero.
	AddCustomer(ctx context.Context, c types.Customer) (types.Customer, error)
	// UpdateCustomer rewrites the mutable fields of c and refreshes Updated.
	// The stored Created time is preserved.
	UpdateCustomer(ctx context.Context, c types.Customer) (types.Customer, error)
	// DeleteCustomer removes c by ID.
	DeleteCustomer(ctx context.Context, c types.Customer) error
}

func duplicateNameError(err error, c types.Customer) error {
	if err == nil {
		return errors.Newf(errors.CodeAlreadyExists, "customer %s %s already exists", c.FirstName, c.LastName)
	}
	return errors.Wrapf(err, errors.CodeAlreadyExists, "customer %s %s already exists", c.FirstName, c.LastName)
}

func notFoundError(id int64) error {
	return errors.Newf(errors.CodeNotFound, "customer %d not found", id)
}

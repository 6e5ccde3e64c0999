package types

import (
	"time"
)

// Customer is a registry record. ID is assigned by the persistent store on insert.
type Customer struct {
	ID        int64  `json:"id" firestore:"id"`
	FirstName string `json:"firstName" firestore:"firstName"`
	LastName  string `json:"lastName" firestore:"lastName"`
	Address   string `json:"address" firestore:"address"`

	// Created is set once, the first time the record is persisted.
	Created time.Time `json:"created" firestore:"created"`
	// Updated is refreshed on every mutation.
	Updated time.Time `json:"updated" firestore:"updated"`
}

// SameName reports whether c carries exactly the given first and last name.
// The comparison is case-sensitive and does no normalisation.
func (c Customer) SameName(firstName, lastName string) bool {
	return c.FirstName == firstName && c.LastName == lastName
}

// CustomerInput is the client-supplied part of a customer.
type CustomerInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
}

// ToCustomer maps the input into a new, not yet persisted customer.
func (in CustomerInput) ToCustomer(now time.Time) Customer {
	return Customer{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Address:   in.Address,
		Created:   now,
		Updated:   now,
	}
}

// ApplyTo maps the input onto an existing customer, keeping its identity and Created time.
func (in CustomerInput) ApplyTo(existing Customer, now time.Time) Customer {
	existing.FirstName = in.FirstName
	existing.LastName = in.LastName
	existing.Address = in.Address
	existing.Updated = now
	return existing
}

package types_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCustomerInput_Mapping(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	in := types.CustomerInput{FirstName: "Joe", LastName: "Camel", Address: "1 Main St"}

	c := in.ToCustomer(created)
	assert.Zero(t, c.ID)
	assert.Equal(t, created, c.Created)
	assert.Equal(t, created, c.Updated)

	c.ID = 7
	later := created.Add(time.Hour)
	changed := types.CustomerInput{FirstName: "Joseph", LastName: "Camel", Address: "2 High St"}.ApplyTo(c, later)
	assert.Equal(t, int64(7), changed.ID)
	assert.Equal(t, created, changed.Created)
	assert.Equal(t, later, changed.Updated)
	assert.Equal(t, "Joseph", changed.FirstName)
}

func TestCustomer_SameName(t *testing.T) {
	c := types.Customer{FirstName: "Joe", LastName: "Camel"}
	assert.True(t, c.SameName("Joe", "Camel"))
	assert.False(t, c.SameName("joe", "Camel"))
	assert.False(t, c.SameName("Joe", "Camel "))
}

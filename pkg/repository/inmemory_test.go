package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/repository"
	"github.com/illmade-knight/go-customer-registry/pkg/types"
	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseRepository runs the behaviour every CustomerRepository must share.
func exerciseRepository(t *testing.T, repo repository.CustomerRepository, clock *clockwork.FakeClock) {
	ctx := context.Background()

	ada, err := repo.AddCustomer(ctx, types.Customer{FirstName: "Ada", LastName: "Lovelace", Address: "London"})
	require.NoError(t, err)
	assert.NotZero(t, ada.ID)
	assert.False(t, ada.Created.IsZero())

	alan, err := repo.AddCustomer(ctx, types.Customer{FirstName: "Alan", LastName: "Turing", Address: "Wilmslow"})
	require.NoError(t, err)
	assert.Greater(t, alan.ID, ada.ID)

	t.Run("GetCustomers returns all in ID order", func(t *testing.T) {
		all, err := repo.GetCustomers(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, ada.ID, all[0].ID)
		assert.Equal(t, "Turing", all[1].LastName)
	})

	t.Run("duplicate name is rejected", func(t *testing.T) {
		_, err := repo.AddCustomer(ctx, types.Customer{FirstName: "Ada", LastName: "Lovelace"})
		require.Error(t, err)
		assert.Equal(t, errors.CodeAlreadyExists, errors.GetCode(err))
	})

	t.Run("name comparison is case-sensitive", func(t *testing.T) {
		c, err := repo.AddCustomer(ctx, types.Customer{FirstName: "ada", LastName: "lovelace"})
		require.NoError(t, err)
		require.NoError(t, repo.DeleteCustomer(ctx, c))
	})

	t.Run("update keeps Created and refreshes Updated", func(t *testing.T) {
		clock.Advance(time.Hour)
		changed := ada
		changed.Address = "Marylebone"

		updated, err := repo.UpdateCustomer(ctx, changed)
		require.NoError(t, err)
		assert.Equal(t, "Marylebone", updated.Address)
		assert.True(t, ada.Created.Equal(updated.Created))
		assert.True(t, updated.Updated.After(ada.Updated))
	})

	t.Run("update to a taken name is rejected", func(t *testing.T) {
		changed := alan
		changed.FirstName, changed.LastName = "Ada", "Lovelace"
		_, err := repo.UpdateCustomer(ctx, changed)
		require.Error(t, err)
		assert.Equal(t, errors.CodeAlreadyExists, errors.GetCode(err))
	})

	t.Run("update of a missing customer", func(t *testing.T) {
		_, err := repo.UpdateCustomer(ctx, types.Customer{ID: 9999, FirstName: "No", LastName: "One"})
		require.Error(t, err)
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.DeleteCustomer(ctx, alan))

		err := repo.DeleteCustomer(ctx, alan)
		require.Error(t, err)
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

		all, err := repo.GetCustomers(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, ada.ID, all[0].ID)
	})
}

func TestInMemoryRepository(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	exerciseRepository(t, repository.NewInMemoryRepository(clock), clock)
}

func TestInMemoryRepository_EmptyList(t *testing.T) {
	repo := repository.NewInMemoryRepository(nil)
	all, err := repo.GetCustomers(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func customerNamed(first, last string) types.Customer {
	return types.Customer{FirstName: first, LastName: last, Address: "somewhere"}
}

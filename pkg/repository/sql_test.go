package repository_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/repository"
	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteRepository(t *testing.T, clock clockwork.Clock) *repository.SQLRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	cfg := repository.SQLConfig{
		Driver: repository.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}
	repo, err := repository.NewSQLRepository(context.Background(), cfg, clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLRepository_SQLite(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	exerciseRepository(t, newSQLiteRepository(t, clock), clock)
}

func TestSQLRepository_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	cfg := repository.SQLConfig{
		Driver: repository.DriverSQLite,
		DSN:    "file:reopen_keeps_data?mode=memory&cache=shared",
		Table:  "registry_customer",
	}

	first, err := repository.NewSQLRepository(ctx, cfg, clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	_, err = first.AddCustomer(ctx, customerNamed("Grace", "Hopper"))
	require.NoError(t, err)

	// The schema is created idempotently on the same shared database.
	second, err := repository.NewSQLRepository(ctx, cfg, clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	all, err := second.GetCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Hopper", all[0].LastName)
}

func TestNewSQLRepository_InvalidConfig(t *testing.T) {
	ctx := context.Background()
	testCases := []struct {
		name string
		cfg  repository.SQLConfig
	}{
		{name: "unknown driver", cfg: repository.SQLConfig{Driver: "oracle", DSN: "x"}},
		{name: "missing dsn", cfg: repository.SQLConfig{Driver: repository.DriverSQLite}},
		{name: "bad table name", cfg: repository.SQLConfig{Driver: repository.DriverSQLite, DSN: "file:bad?mode=memory", Table: "customer; DROP"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repository.NewSQLRepository(ctx, tc.cfg, nil, zerolog.Nop())
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

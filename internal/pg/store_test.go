package pg

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"kalitaforms/internal/form"
)

// startPostgres поднимает одноразовый Postgres в контейнере.
func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("kalita"),
		postgres.WithUsername("kalita"),
		postgres.WithPassword("kalita"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStore(t *testing.T) {
	db := startPostgres(t)
	ctx := context.Background()
	log := logrus.New()
	tables := ddlTables()

	require.NoError(t, Migrate(ctx, db, tables, log))
	// повторно: ограничения уже есть
	require.NoError(t, Migrate(ctx, db, tables, log))

	s := NewStore(db, log)
	customer, order := tables["crm.Customer"], tables["crm.Order"]

	require.NoError(t, s.Create(ctx, customer, "CUST-1", map[string]any{"name": "CUST-1", "email": "a@acme.test"}))
	require.NoError(t, s.Create(ctx, customer, "CUST-2", map[string]any{"email": "b@initech.test"}))

	err := s.Create(ctx, customer, "CUST-1", map[string]any{"email": "c@acme.test"})
	assert.True(t, form.IsConflict(err), "%v", err)

	err = s.Create(ctx, customer, "CUST-3", map[string]any{"email": "a@acme.test"})
	ve, ok := form.AsValidation(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, form.ErrNotUnique, ve.Errors[0].Code)
	assert.Equal(t, "email", ve.Errors[0].Field)

	rec, err := s.Get(ctx, customer, "CUST-1")
	require.NoError(t, err)
	assert.Equal(t, "CUST-1", rec["name"])
	assert.Equal(t, "a@acme.test", rec["email"])
	assert.Equal(t, int64(1), rec["version"])
	assert.Nil(t, rec["photos"])

	_, err = s.Get(ctx, customer, "CUST-9")
	assert.True(t, form.IsNotFound(err))

	require.NoError(t, s.Create(ctx, order, "ORD-0001", map[string]any{
		"customer": "CUST-1", "qty": float64(3), "price": 9.5, "due": "2024-12-31", "paid": 1,
	}))
	rec, err = s.Get(ctx, order, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, "CUST-1", rec["customer"])
	assert.Equal(t, int64(3), rec["qty"])
	assert.Equal(t, 9.5, rec["price"])
	assert.Equal(t, "2024-12-31", rec["due"])
	assert.Equal(t, int64(1), rec["paid"])
	assert.Equal(t, "Draft", rec["status"])

	err = s.Create(ctx, order, "ORD-0002", map[string]any{"customer": "CUST-404"})
	ve, ok = form.AsValidation(err)
	require.True(t, ok, "%v", err)
	assert.Equal(t, form.ErrNotFoundCode, ve.Errors[0].Code)
	assert.Equal(t, "customer", ve.Errors[0].Field)

	require.NoError(t, s.Update(ctx, order, "ORD-0001", map[string]any{"qty": 5, "status": "Sent"}))
	rec, err = s.Get(ctx, order, "ORD-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec["qty"])
	assert.Equal(t, "Sent", rec["status"])
	assert.Equal(t, int64(2), rec["version"])

	err = s.Update(ctx, order, "ORD-0404", map[string]any{"qty": 1})
	assert.True(t, form.IsNotFound(err))

	got, err := s.Search(ctx, customer, "", "email", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "CUST-1", got[0].Value)
	assert.Equal(t, "a@acme.test", got[0].Label)
	assert.Equal(t, "CUST-1", got[0].Description)

	got, err = s.Search(ctx, customer, "INITECH", "email", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CUST-2", got[0].Value)

	got, err = s.Search(ctx, customer, "cust", "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CUST-1", got[0].Label)
	assert.Empty(t, got[0].Description)

	for want := int64(1); want <= 3; want++ {
		n, err := s.NextSequence(ctx, "crm.Order/ORD-")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := s.NextSequence(ctx, "crm.Customer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

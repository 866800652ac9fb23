package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AwesomeGRV/ErrorBudget/internal/slo"
	"github.com/AwesomeGRV/ErrorBudget/internal/storage"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "registry.db")
	store, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func createService(t *testing.T, store *Store, name string, env slo.Environment) *slo.Service {
	t.Helper()
	svc := &slo.Service{Name: name, OwnerTeam: "payments", Environment: env, Version: "1.0.0"}
	require.NoError(t, store.CreateService(context.Background(), svc))
	return svc
}

func createSLO(t *testing.T, store *Store, serviceID int64, name string) *slo.SLO {
	t.Helper()
	o := &slo.SLO{
		ServiceID:         serviceID,
		Name:              name,
		SLIType:           slo.SLIAvailability,
		Target:            0.999,
		TimeWindowDays:    30,
		FastBurnThreshold: 2,
		SlowBurnThreshold: 1,
		HardBudgetPolicy:  true,
	}
	require.NoError(t, store.CreateSLO(context.Background(), o))
	return o
}

func TestStore_ServiceLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	svc := createService(t, store, "checkout", slo.EnvProd)
	assert.NotZero(t, svc.ID)
	assert.False(t, svc.CreatedAt.IsZero())

	got, err := store.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "checkout", got.Name)
	assert.Equal(t, slo.EnvProd, got.Environment)
	assert.Equal(t, "payments", got.OwnerTeam)
	assert.True(t, got.CreatedAt.Equal(svc.CreatedAt))

	found, err := store.FindService(ctx, "checkout", slo.EnvProd)
	require.NoError(t, err)
	assert.Equal(t, svc.ID, found.ID)

	_, err = store.FindService(ctx, "checkout", slo.EnvStaging)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got.Version = "1.1.0"
	require.NoError(t, store.UpdateService(ctx, got))
	got, err = store.GetService(ctx, svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", got.Version)

	require.NoError(t, store.SetServiceDisabled(ctx, svc.ID, true))

	active, err := store.ListServices(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.ListServices(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Disabled)
}

func TestStore_ServiceErrors(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	createService(t, store, "checkout", slo.EnvProd)

	err := store.CreateService(ctx, &slo.Service{Name: "checkout", Environment: slo.EnvProd})
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Same name in another environment is a different service.
	err = store.CreateService(ctx, &slo.Service{Name: "checkout", Environment: slo.EnvStaging})
	assert.NoError(t, err)

	_, err = store.GetService(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.UpdateService(ctx, &slo.Service{ID: 999, Name: "x", Environment: slo.EnvDev})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.SetServiceDisabled(ctx, 999, true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SLOLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	svc := createService(t, store, "checkout", slo.EnvProd)
	other := createService(t, store, "search", slo.EnvProd)

	availability := createSLO(t, store, svc.ID, "availability")
	latency := createSLO(t, store, svc.ID, "latency")
	createSLO(t, store, other.ID, "availability")

	got, err := store.GetSLO(ctx, availability.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.ID, got.ServiceID)
	assert.Equal(t, 0.999, got.Target)
	assert.Equal(t, 30, got.TimeWindowDays)
	assert.True(t, got.HardBudgetPolicy)
	assert.Equal(t, slo.SLIAvailability, got.SLIType)

	found, err := store.FindSLO(ctx, svc.ID, "latency")
	require.NoError(t, err)
	assert.Equal(t, latency.ID, found.ID)

	err = store.CreateSLO(ctx, &slo.SLO{ServiceID: svc.ID, Name: "availability", SLIType: slo.SLIAvailability, Target: 0.99, TimeWindowDays: 7, FastBurnThreshold: 2, SlowBurnThreshold: 1})
	assert.ErrorIs(t, err, storage.ErrConflict)

	got.Target = 0.995
	got.LatencyThreshold = 120
	require.NoError(t, store.UpdateSLO(ctx, got))
	got, err = store.GetSLO(ctx, availability.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.995, got.Target)
	assert.Equal(t, 120.0, got.LatencyThreshold)

	require.NoError(t, store.SetSLODisabled(ctx, latency.ID, true))

	slos, err := store.ListSLOs(ctx, svc.ID, false)
	require.NoError(t, err)
	require.Len(t, slos, 1)
	assert.Equal(t, availability.ID, slos[0].ID)

	slos, err = store.ListSLOs(ctx, svc.ID, true)
	require.NoError(t, err)
	assert.Len(t, slos, 2)

	all, err := store.ListAllSLOs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = store.GetSLO(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SLORequiresService(t *testing.T) {
	store := setupTestDB(t)

	err := store.CreateSLO(context.Background(), &slo.SLO{ServiceID: 42, Name: "orphan", SLIType: slo.SLIAvailability, Target: 0.99, TimeWindowDays: 7, FastBurnThreshold: 2, SlowBurnThreshold: 1})
	assert.Error(t, err)
}

func TestStore_Ping(t *testing.T) {
	store := setupTestDB(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"}, nil)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	lite := &Store{driver: DriverSQLite}

	query := `SELECT * FROM slos WHERE service_id = ? AND name = ?`
	assert.Equal(t, `SELECT * FROM slos WHERE service_id = $1 AND name = $2`, pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

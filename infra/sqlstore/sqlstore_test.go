package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/core/store/storetest"
	"github.com/kilianp07/mes/test/util"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), store.DriverSQLite, filepath.Join(t.TempDir(), "mes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openSQLite(t) })
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "mes.db")
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	s, err := Open(ctx, store.DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertCapacity(ctx, "Shopfloor-1", 5000, at))
	require.NoError(t, s.CreateOrder(ctx, model.Order{
		ID: "ORD-1", Description: "bolts", Material: "steel", Quantity: 10,
		Status: model.StatusInProgress, CreatedAt: at, Distribution: map[string]int{"Shopfloor-1": 10},
	}, []model.SubOrderReport{{OrderID: "ORD-1", Shopfloor: "Shopfloor-1", Assigned: 10, Status: model.StatusInProgress, UpdatedAt: at}}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, store.DriverSQLite, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	sf, err := s.GetShopfloor(ctx, "Shopfloor-1")
	require.NoError(t, err)
	assert.Equal(t, 5000, sf.Capacity)
	o, err := s.GetOrder(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Shopfloor-1": 10}, o.Distribution)
	r, err := s.GetReport(ctx, "ORD-1", "Shopfloor-1")
	require.NoError(t, err)
	assert.Nil(t, r.CompletedAt)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"UPDATE t SET a = ?, b = ? WHERE id = ?", "UPDATE t SET a = $1, b = $2 WHERE id = $3"},
		{"SELECT '?' FROM t WHERE x = ?", "SELECT '?' FROM t WHERE x = $1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.in))
	}
	assert.Equal(t, "a = ?", mysqlDialect{}.Rebind("a = ?"))
	assert.Equal(t, "a = $1", postgresDialect{}.Rebind("a = ?"))
}

func TestMySQLDSNFoundRows(t *testing.T) {
	dsn, err := mysqlDSN("mes:secret@tcp(localhost:3306)/mes")
	require.NoError(t, err)
	assert.Contains(t, dsn, "clientFoundRows=true")

	_, err = mysqlDSN("not a dsn")
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	util.RequireDocker(t)
	ctx := context.Background()
	dsn, cleanup, err := util.StartPostgres(ctx)
	require.NoError(t, err)
	defer cleanup()

	n := 0
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(ctx, store.DriverPostgres, dsn)
		require.NoError(t, err)
		// every subtest starts from empty tables
		for _, table := range []string{"shopfloors", "orders", "suborders", "heartbeats"} {
			_, err := s.db.ExecContext(ctx, "DELETE FROM "+table)
			require.NoError(t, err)
		}
		n++
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
	assert.Equal(t, 4, n)
}

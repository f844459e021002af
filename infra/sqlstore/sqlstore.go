// Package sqlstore implements store.Store on database/sql for SQLite,
// PostgreSQL and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
)

// Store persists the service state in a SQL database. Writes that touch
// several rows run in a transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var _ store.Store = (*Store)(nil)

// Open connects to the database selected by driver and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		d   Dialect
		err error
	)
	switch driver {
	case store.DriverSQLite:
		d = sqliteDialect{}
		dsn, err = sqliteDSN(dsn)
	case store.DriverPostgres:
		d = postgresDialect{}
	case store.DriverMySQL:
		d = mysqlDialect{}
		dsn, err = mysqlDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == store.DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	return s, nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = store.DefaultSQLitePath
	}
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path), nil
}

// mysqlDSN makes UPDATE report matched rather than changed rows, which the
// upserts rely on.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Dialect returns the engine dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// updateOrInsert runs update and falls back to insert when no row matched.
func (s *Store) updateOrInsert(ctx context.Context, ex execer, update string, uargs []any, insert string, iargs []any) error {
	res, err := ex.ExecContext(ctx, s.q(update), uargs...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = ex.ExecContext(ctx, s.q(insert), iargs...)
	return err
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

// Capacity

const shopfloorColumns = `id, capacity, current_load, updated_at`

func scanShopfloor(sc scanner) (model.Shopfloor, error) {
	var (
		sf model.Shopfloor
		at int64
	)
	if err := sc.Scan(&sf.ID, &sf.Capacity, &sf.CurrentLoad, &at); err != nil {
		return model.Shopfloor{}, err
	}
	sf.UpdatedAt = fromMillis(at)
	return sf, nil
}

func (s *Store) ListShopfloors(ctx context.Context) ([]model.Shopfloor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shopfloorColumns+` FROM shopfloors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := []model.Shopfloor{}
	for rows.Next() {
		sf, err := scanShopfloor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sf)
	}
	return res, rows.Err()
}

func (s *Store) GetShopfloor(ctx context.Context, id string) (model.Shopfloor, error) {
	sf, err := scanShopfloor(s.db.QueryRowContext(ctx, s.q(`SELECT `+shopfloorColumns+` FROM shopfloors WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Shopfloor{}, fmt.Errorf("shopfloor %s: %w", id, model.ErrNotFound)
	}
	return sf, err
}

func (s *Store) UpsertCapacity(ctx context.Context, id string, capacity int, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.updateOrInsert(ctx, tx,
			`UPDATE shopfloors SET capacity = ?, updated_at = ? WHERE id = ?`,
			[]any{capacity, millis(at), id},
			`INSERT INTO shopfloors (id, capacity, current_load, updated_at) VALUES (?, ?, 0, ?)`,
			[]any{id, capacity, millis(at)},
		)
	})
}

func (s *Store) SeedShopfloor(ctx context.Context, id string, capacity int, at time.Time) (bool, error) {
	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM shopfloors WHERE id = ?`), id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO shopfloors (id, capacity, current_load, updated_at) VALUES (?, ?, 0, ?)`),
			id, capacity, millis(at)); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

func (s *Store) SetLoad(ctx context.Context, id string, load int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE shopfloors SET current_load = ?, updated_at = ? WHERE id = ?`), load, millis(at), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("shopfloor %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// Orders

const orderColumns = `id, description, material, quantity, status, created_at, completed_at, distribution`

func scanOrder(sc scanner) (model.Order, error) {
	var (
		o         model.Order
		status    string
		created   int64
		completed sql.NullInt64
		dist      string
	)
	if err := sc.Scan(&o.ID, &o.Description, &o.Material, &o.Quantity, &status, &created, &completed, &dist); err != nil {
		return model.Order{}, err
	}
	o.Status = model.Status(status)
	o.CreatedAt = fromMillis(created)
	o.CompletedAt = fromNullMillis(completed)
	if err := json.Unmarshal([]byte(dist), &o.Distribution); err != nil {
		return model.Order{}, fmt.Errorf("order %s distribution: %w", o.ID, err)
	}
	return o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o model.Order, subs []model.SubOrderReport) error {
	dist, err := json.Marshal(o.Distribution)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			o.ID, o.Description, o.Material, o.Quantity, string(o.Status), millis(o.CreatedAt), nullMillis(o.CompletedAt), string(dist)); err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
		for _, r := range subs {
			if err := s.insertReport(ctx, tx, r); err != nil {
				return fmt.Errorf("insert sub-order %s/%s: %w", r.OrderID, r.Shopfloor, err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	return o, err
}

func (s *Store) ListOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (s *Store) CompleteOrder(ctx context.Context, id string, at time.Time) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, s.q(`SELECT status FROM orders WHERE id = ?`), id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", id, model.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if model.Status(status) == model.StatusCompleted {
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE orders SET status = ?, completed_at = ? WHERE id = ?`),
			string(model.StatusCompleted), millis(at), id); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Reports

const reportColumns = `order_id, shopfloor, assigned, produced, defective, status, completed_at, updated_at`

func scanReport(sc scanner) (model.SubOrderReport, error) {
	var (
		r         model.SubOrderReport
		status    string
		completed sql.NullInt64
		updated   int64
	)
	if err := sc.Scan(&r.OrderID, &r.Shopfloor, &r.Assigned, &r.Produced, &r.Defective, &status, &completed, &updated); err != nil {
		return model.SubOrderReport{}, err
	}
	r.Status = model.Status(status)
	r.CompletedAt = fromNullMillis(completed)
	r.UpdatedAt = fromMillis(updated)
	return r, nil
}

func (s *Store) insertReport(ctx context.Context, ex execer, r model.SubOrderReport) error {
	_, err := ex.ExecContext(ctx, s.q(`INSERT INTO suborders (`+reportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.OrderID, r.Shopfloor, r.Assigned, r.Produced, r.Defective, string(r.Status), nullMillis(r.CompletedAt), millis(r.UpdatedAt))
	return err
}

func (s *Store) GetReport(ctx context.Context, orderID, shopfloor string) (model.SubOrderReport, error) {
	r, err := scanReport(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+reportColumns+` FROM suborders WHERE order_id = ? AND shopfloor = ?`), orderID, shopfloor))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubOrderReport{}, fmt.Errorf("report %s/%s: %w", orderID, shopfloor, model.ErrNotFound)
	}
	return r, err
}

func (s *Store) PutReport(ctx context.Context, r model.SubOrderReport) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.updateOrInsert(ctx, tx,
			`UPDATE suborders SET assigned = ?, produced = ?, defective = ?, status = ?, completed_at = ?, updated_at = ?
				WHERE order_id = ? AND shopfloor = ?`,
			[]any{r.Assigned, r.Produced, r.Defective, string(r.Status), nullMillis(r.CompletedAt), millis(r.UpdatedAt), r.OrderID, r.Shopfloor},
			`INSERT INTO suborders (`+reportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{r.OrderID, r.Shopfloor, r.Assigned, r.Produced, r.Defective, string(r.Status), nullMillis(r.CompletedAt), millis(r.UpdatedAt)},
		)
	})
}

func (s *Store) ListReports(ctx context.Context, f store.ReportFilter) ([]model.SubOrderReport, error) {
	var (
		where []string
		args  []any
	)
	if f.OrderID != "" {
		where = append(where, "order_id = ?")
		args = append(args, f.OrderID)
	}
	if f.Shopfloor != "" {
		where = append(where, "shopfloor = ?")
		args = append(args, f.Shopfloor)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + reportColumns + ` FROM suborders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, order_id DESC, shopfloor ASC`

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.SubOrderReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// Heartbeats

func (s *Store) PutHeartbeat(ctx context.Context, hb model.Heartbeat) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.updateOrInsert(ctx, tx,
			`UPDATE heartbeats SET last_seen = ?, status = ? WHERE shopfloor = ?`,
			[]any{millis(hb.LastSeen), hb.Status, hb.Shopfloor},
			`INSERT INTO heartbeats (shopfloor, last_seen, status) VALUES (?, ?, ?)`,
			[]any{hb.Shopfloor, millis(hb.LastSeen), hb.Status},
		)
	})
}

func scanHeartbeat(sc scanner) (model.Heartbeat, error) {
	var (
		hb   model.Heartbeat
		seen int64
	)
	if err := sc.Scan(&hb.Shopfloor, &seen, &hb.Status); err != nil {
		return model.Heartbeat{}, err
	}
	hb.LastSeen = fromMillis(seen)
	return hb, nil
}

func (s *Store) GetHeartbeat(ctx context.Context, shopfloor string) (model.Heartbeat, error) {
	hb, err := scanHeartbeat(s.db.QueryRowContext(ctx,
		s.q(`SELECT shopfloor, last_seen, status FROM heartbeats WHERE shopfloor = ?`), shopfloor))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Heartbeat{}, fmt.Errorf("heartbeat %s: %w", shopfloor, model.ErrNotFound)
	}
	return hb, err
}

func (s *Store) ListHeartbeats(ctx context.Context) ([]model.Heartbeat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT shopfloor, last_seen, status FROM heartbeats ORDER BY shopfloor`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := []model.Heartbeat{}
	for rows.Next() {
		hb, err := scanHeartbeat(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, hb)
	}
	return res, rows.Err()
}

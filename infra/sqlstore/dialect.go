package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect interface {
	// Name is the store driver name from the configuration.
	Name() string
	// DriverName is the database/sql driver registered for the engine.
	DriverName() string
	// Schema returns the statements creating every table, one per entry.
	Schema() []string
	// Rebind rewrites ? placeholders into the engine's native form.
	Rebind(query string) string
}

// Timestamps are unix milliseconds in every dialect and identifiers use
// VARCHAR so they can be indexed by MySQL.
var commonSchema = []string{
	`CREATE TABLE IF NOT EXISTS shopfloors (
		id VARCHAR(191) NOT NULL PRIMARY KEY,
		capacity BIGINT NOT NULL,
		current_load BIGINT NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		description TEXT NOT NULL,
		material TEXT NOT NULL,
		quantity BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at BIGINT NOT NULL,
		completed_at BIGINT NULL,
		distribution TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS suborders (
		order_id VARCHAR(64) NOT NULL,
		shopfloor VARCHAR(191) NOT NULL,
		assigned BIGINT NOT NULL,
		produced BIGINT NOT NULL DEFAULT 0,
		defective BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL,
		completed_at BIGINT NULL,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (order_id, shopfloor)
	)`,
	`CREATE TABLE IF NOT EXISTS heartbeats (
		shopfloor VARCHAR(191) NOT NULL PRIMARY KEY,
		last_seen BIGINT NOT NULL,
		status VARCHAR(64) NOT NULL
	)`,
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite" }
func (sqliteDialect) DriverName() string         { return "sqlite" }
func (sqliteDialect) Schema() []string           { return commonSchema }
func (sqliteDialect) Rebind(query string) string { return query }

type postgresDialect struct{}

func (postgresDialect) Name() string               { return "postgres" }
func (postgresDialect) DriverName() string         { return "pgx" }
func (postgresDialect) Schema() []string           { return commonSchema }
func (postgresDialect) Rebind(query string) string { return Rebind(query) }

type mysqlDialect struct{}

func (mysqlDialect) Name() string               { return "mysql" }
func (mysqlDialect) DriverName() string         { return "mysql" }
func (mysqlDialect) Schema() []string           { return commonSchema }
func (mysqlDialect) Rebind(query string) string { return query }

// Rebind replaces each ? placeholder with $1, $2, ... Question marks inside
// single-quoted literals are left untouched.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

package store

import "fmt"

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// DefaultSQLitePath is used when the sqlite driver is selected without a DSN.
const DefaultSQLitePath = "data/mes.db"

// Config selects the persistence backend.
type Config struct {
	Driver string `json:"driver"`
	// DSN is a file path for sqlite and a connection string otherwise.
	DSN string `json:"dsn"`
}

// SetDefaults selects the memory driver when none is configured.
func (c *Config) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Driver == DriverSQLite && c.DSN == "" {
		c.DSN = DefaultSQLitePath
	}
}

// Validate checks the driver name and that network drivers carry a DSN.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres, DriverMySQL:
		if c.DSN == "" {
			return fmt.Errorf("store: dsn is required for driver %s", c.Driver)
		}
	default:
		return fmt.Errorf("store: unsupported driver %q", c.Driver)
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
)

// Transport backends.
const (
	TransportMQTT   = "mqtt"
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

// DefaultBroker is used when the MQTT backend is selected without a broker.
const DefaultBroker = "tcp://localhost:1883"

// TransportConfig selects the dispatch transport.
type TransportConfig struct {
	// Backend is "mqtt", "kafka" or "memory". The memory backend only
	// reaches shopfloors simulated in the same process.
	Backend string `json:"backend"`
}

func (c *TransportConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = TransportMQTT
	}
}

func (c TransportConfig) Validate() error {
	switch c.Backend {
	case TransportMQTT, TransportKafka, TransportMemory:
		return nil
	}
	return fmt.Errorf("transport: unknown backend %q", c.Backend)
}

// ShopfloorConfig seeds a shopfloor at startup. Existing shopfloors keep
// their stored capacity.
type ShopfloorConfig struct {
	ID       string `json:"id"`
	Capacity int    `json:"capacity"`
}

// DefaultShopfloors is the fleet seeded when none is configured.
func DefaultShopfloors() []ShopfloorConfig {
	return []ShopfloorConfig{
		{ID: "Shopfloor-1", Capacity: 5000},
		{ID: "Shopfloor-2", Capacity: 6000},
		{ID: "Shopfloor-3", Capacity: 7000},
	}
}

// ValidateShopfloors rejects empty or duplicate IDs and negative capacities.
func ValidateShopfloors(sfs []ShopfloorConfig) error {
	seen := make(map[string]struct{}, len(sfs))
	for _, sf := range sfs {
		id := strings.TrimSpace(sf.ID)
		if id == "" {
			return fmt.Errorf("shopfloors: id is required")
		}
		if strings.ContainsAny(id, "/+#") {
			return fmt.Errorf("shopfloors: id %q must not contain topic separators", id)
		}
		if sf.Capacity < 0 {
			return fmt.Errorf("shopfloors: capacity of %s must not be negative", id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("shopfloors: duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// HTTPConfig configures the REST API.
type HTTPConfig struct {
	Addr        string   `json:"addr"`
	CORSOrigins []string `json:"cors_origins"`
	// JournalToken protects GET /journal when set.
	JournalToken string `json:"journal_token"`
	// ShutdownSeconds bounds graceful shutdown.
	ShutdownSeconds int `json:"shutdown_seconds"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.ShutdownSeconds <= 0 {
		c.ShutdownSeconds = 5
	}
}

func (c HTTPConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("http: addr is required")
	}
	return nil
}

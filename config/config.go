// Package config loads the service configuration from a YAML or JSON file
// with MES_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/journal"
	"github.com/kilianp07/mes/core/liveness"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/store"
	"github.com/kilianp07/mes/infra/kafka"
	"github.com/kilianp07/mes/infra/mqtt"
)

// EnvPrefix marks environment overrides. MES_STORE__DRIVER=sqlite sets
// store.driver.
const EnvPrefix = "MES_"

type Config struct {
	Transport  TransportConfig   `json:"transport"`
	MQTT       mqtt.Config       `json:"mqtt"`
	Kafka      kafka.Config      `json:"kafka"`
	Dispatch   dispatch.Config   `json:"dispatch"`
	Store      store.Config      `json:"store"`
	Liveness   liveness.Config   `json:"liveness"`
	Shopfloors []ShopfloorConfig `json:"shopfloors"`
	HTTP       HTTPConfig        `json:"http"`
	Metrics    metrics.Config    `json:"metrics"`
	Journal    journal.Config    `json:"journal"`
	Sentry     SentryConfig      `json:"sentry"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Transport.SetDefaults()
	if c.Transport.Backend == TransportMQTT && c.MQTT.Broker == "" {
		c.MQTT.Broker = DefaultBroker
	}
	c.MQTT.SetDefaults()
	c.Kafka.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Store.SetDefaults()
	c.Liveness.SetDefaults()
	if len(c.Shopfloors) == 0 {
		c.Shopfloors = DefaultShopfloors()
	}
	c.HTTP.SetDefaults()
	c.Metrics.SetDefaults()
	c.Journal.SetDefaults()
}

// Validate checks every section. Transport settings are only checked for
// the selected backend.
func (c Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	switch c.Transport.Backend {
	case TransportMQTT:
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	case TransportKafka:
		if err := c.Kafka.Validate(); err != nil {
			return err
		}
	}
	validators := []interface{ Validate() error }{
		c.Dispatch, c.Store, c.Liveness, c.HTTP, c.Metrics, c.Journal,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return ValidateShopfloors(c.Shopfloors)
}

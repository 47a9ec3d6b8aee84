// Package config loads the broker's startup settings: a YAML file
// parsed into a typed struct, an environment-keyed override section
// merged on top, and explicit environment-variable overrides applied
// last so an operator never has to edit the file to change one value.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/model"
	"github.com/sawpanic/pulsarbroker/internal/persistence/postgres"
)

// Backend names accepted for PersistEvents/PersistState, matching the
// CLI/config contract's {in-memory, file-system} enum. "file-system" is
// implemented as the Postgres-backed durable store (see DESIGN.md's
// Open Question decision) rather than a literal filesystem backend —
// the contract only promises "in-memory or durable", and Postgres is
// the durable backend this broker actually ships.
const (
	BackendInMemory  = "in-memory"
	BackendDurable   = "file-system"
)

// Settings is the broker's full merged configuration: CLI positional
// defaults, network ports, and the persistence backend selection.
type Settings struct {
	ClusterName string `yaml:"cluster_name"`
	IpAddress   string `yaml:"ip_address"`

	AdminPort  ids.PortNumber `yaml:"admin_port"`
	PubSubPort ids.PortNumber `yaml:"pubsub_port"`
	SyncPort   ids.PortNumber `yaml:"sync_port"`

	PersistEvents string `yaml:"persist_events"`
	PersistState  string `yaml:"persist_state"`

	Postgres       postgres.Config `yaml:"postgres"`
	CacheRedisAddr string          `yaml:"cache_redis_addr"`

	ConnectionIdleTimeout time.Duration `yaml:"connection_idle_timeout"`
}

// Default returns the contract's documented defaults: dev/local/127.0.0.1,
// in-memory backend, the model package's default node ports.
func Default() Settings {
	return Settings{
		ClusterName:           "local",
		IpAddress:             "127.0.0.1",
		AdminPort:             model.DefaultAdminPort,
		PubSubPort:            model.DefaultPubSubPort,
		SyncPort:              model.DefaultSyncPort,
		PersistEvents:         BackendInMemory,
		PersistState:          BackendInMemory,
		Postgres:              postgres.DefaultConfig(),
		ConnectionIdleTimeout: 30 * time.Second,
	}
}

// Load builds Settings for the given CLI environment name (defaulting
// to "dev" per the CLI contract) from configPath (if it exists),
// merging in that environment's override section, then applying
// BROKER_-prefixed environment variable overrides.
func Load(configPath, environment string) (Settings, error) {
	settings := Default()
	if environment == "" {
		environment = "dev"
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return Settings{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}

			var base Settings
			if err := yaml.Unmarshal(data, &base); err != nil {
				return Settings{}, fmt.Errorf("config: parse %s: %w", configPath, err)
			}
			mergeNonZero(&settings, base)

			var envSections map[string]Settings
			if err := yaml.Unmarshal(data, &envSections); err == nil {
				if override, ok := envSections[environment]; ok {
					mergeNonZero(&settings, override)
				}
			}
		}
	}

	applyEnvOverrides(&settings)
	return settings, nil
}

// mergeNonZero copies every non-zero-valued field of override onto dst:
// only fields actually set in the override section win, field by field.
func mergeNonZero(dst *Settings, override Settings) {
	if override.ClusterName != "" {
		dst.ClusterName = override.ClusterName
	}
	if override.IpAddress != "" {
		dst.IpAddress = override.IpAddress
	}
	if override.AdminPort != 0 {
		dst.AdminPort = override.AdminPort
	}
	if override.PubSubPort != 0 {
		dst.PubSubPort = override.PubSubPort
	}
	if override.SyncPort != 0 {
		dst.SyncPort = override.SyncPort
	}
	if override.PersistEvents != "" {
		dst.PersistEvents = override.PersistEvents
	}
	if override.PersistState != "" {
		dst.PersistState = override.PersistState
	}
	if override.Postgres.DSN != "" {
		dst.Postgres.DSN = override.Postgres.DSN
	}
	if override.Postgres.MaxOpenConns != 0 {
		dst.Postgres.MaxOpenConns = override.Postgres.MaxOpenConns
	}
	if override.Postgres.MaxIdleConns != 0 {
		dst.Postgres.MaxIdleConns = override.Postgres.MaxIdleConns
	}
	if override.Postgres.ConnMaxLifetime != 0 {
		dst.Postgres.ConnMaxLifetime = override.Postgres.ConnMaxLifetime
	}
	if override.Postgres.ConnMaxIdleTime != 0 {
		dst.Postgres.ConnMaxIdleTime = override.Postgres.ConnMaxIdleTime
	}
	if override.Postgres.QueryTimeout != 0 {
		dst.Postgres.QueryTimeout = override.Postgres.QueryTimeout
	}
	if override.CacheRedisAddr != "" {
		dst.CacheRedisAddr = override.CacheRedisAddr
	}
	if override.ConnectionIdleTimeout != 0 {
		dst.ConnectionIdleTimeout = override.ConnectionIdleTimeout
	}
}

func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("BROKER_CLUSTER_NAME"); v != "" {
		s.ClusterName = v
	}
	if v := os.Getenv("BROKER_IP_ADDRESS"); v != "" {
		s.IpAddress = v
	}
	if v := os.Getenv("BROKER_ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.AdminPort = ids.PortNumber(n)
		}
	}
	if v := os.Getenv("BROKER_PUBSUB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.PubSubPort = ids.PortNumber(n)
		}
	}
	if v := os.Getenv("BROKER_SYNC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.SyncPort = ids.PortNumber(n)
		}
	}
	if v := os.Getenv("BROKER_PERSIST_EVENTS"); v != "" {
		s.PersistEvents = v
	}
	if v := os.Getenv("BROKER_PERSIST_STATE"); v != "" {
		s.PersistState = v
	}
	if v := os.Getenv("BROKER_POSTGRES_DSN"); v != "" {
		s.Postgres.DSN = v
	}
	if v := os.Getenv("BROKER_CACHE_REDIS_ADDR"); v != "" {
		s.CacheRedisAddr = v
	}
	if v := os.Getenv("BROKER_CONNECTION_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.ConnectionIdleTimeout = d
		}
	}
}

// Validate checks the invariants Load cannot enforce by construction:
// the backend names are from the documented enum and a durable backend
// carries a DSN.
func (s Settings) Validate() error {
	if s.PersistEvents != BackendInMemory && s.PersistEvents != BackendDurable {
		return fmt.Errorf("config: persist-events must be %q or %q, got %q", BackendInMemory, BackendDurable, s.PersistEvents)
	}
	if s.PersistState != BackendInMemory && s.PersistState != BackendDurable {
		return fmt.Errorf("config: persist-state must be %q or %q, got %q", BackendInMemory, BackendDurable, s.PersistState)
	}
	if s.PersistState == BackendDurable && s.Postgres.DSN == "" {
		return fmt.Errorf("config: persist-state=%s requires postgres.dsn (or BROKER_POSTGRES_DSN)", BackendDurable)
	}
	return nil
}

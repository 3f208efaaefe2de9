package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source    SourceConfig    `yaml:"source"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Binlog    BinlogConfig    `yaml:"binlog"`
	NATS      NATSConfig      `yaml:"nats"`
	Processor ProcessorConfig `yaml:"processor"`
	Plugins   []PluginConfig  `yaml:"plugins"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourceConfig selects where change events come from.
type SourceConfig struct {
	Kind string `yaml:"kind"` // nats, binlog
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"` // mysql, mariadb

	// User lookup for the blob forwarder's display-name resolution.
	UserTable      string `yaml:"user_table"`
	UserIDColumn   string `yaml:"user_id_column"`
	UserNameColumn string `yaml:"user_name_column"`
}

type BinlogConfig struct {
	PositionFile  string `yaml:"position_file"`
	StartPosition uint32 `yaml:"start_position"`
	UserColumn    string `yaml:"user_column"` // row column holding the initiating user id
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// ProcessorConfig configures the optional pre-forward transform stage.
type ProcessorConfig struct {
	Enabled bool            `yaml:"enabled"`
	Script  string          `yaml:"script"` // JavaScript transform file; takes precedence over rules
	Rules   []TransformRule `yaml:"rules"`
}

type TransformRule struct {
	Entity    string            `yaml:"entity"`  // logical name, empty = all
	Message   string            `yaml:"message"` // Create/Update/Delete, empty = all
	Include   []string          `yaml:"include"`
	Exclude   []string          `yaml:"exclude"`
	Rename    map[string]string `yaml:"rename"`
	AddFields map[string]string `yaml:"add_fields"`
}

// PluginConfig is one forwarder registration. SecureConfig is the opaque
// string handed over at registration time; it is decoded, not inspected, here.
type PluginConfig struct {
	Name         string `yaml:"name"`
	Sink         string `yaml:"sink"`          // blob, queue
	SecureConfig string `yaml:"secure_config"` // JSON: {"AccountName": ..., "Key": ...}
	MetadataKeys string `yaml:"metadata_keys"` // blob only: lower (default), pascal
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if config.Source.Kind == "" {
		config.Source.Kind = "nats"
	}
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = 2 * time.Second
	}
	if config.MySQL.Flavor == "" {
		config.MySQL.Flavor = "mysql"
	}
	if config.MySQL.UserTable == "" {
		config.MySQL.UserTable = "systemuser"
	}
	if config.MySQL.UserIDColumn == "" {
		config.MySQL.UserIDColumn = "systemuserid"
	}
	if config.MySQL.UserNameColumn == "" {
		config.MySQL.UserNameColumn = "fullname"
	}

	return &config, nil
}

// StorageSettings is the decoded form of a plugin's secure configuration.
type StorageSettings struct {
	AccountName string `json:"AccountName"`
	Key         string `json:"Key"`
}

// DecodeStorageSettings decodes the opaque registration string. Any account
// or key problems beyond JSON shape are left to the storage SDK, which
// rejects bad credentials at client construction.
func DecodeStorageSettings(raw string) (StorageSettings, error) {
	var settings StorageSettings
	if strings.TrimSpace(raw) == "" {
		return settings, fmt.Errorf("secure configuration is empty")
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return settings, fmt.Errorf("failed to decode secure configuration: %w", err)
	}
	return settings, nil
}

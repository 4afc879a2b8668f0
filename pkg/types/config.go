// Package types provides configuration types for the allocation engine.
package types

import "time"

// ServerConfig represents HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host           string        `json:"host" mapstructure:"host"`
	Port           int           `json:"port" mapstructure:"port"`
	WebSocketPath  string        `json:"websocketPath" mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `json:"readTimeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `json:"writeTimeout" mapstructure:"write_timeout"`
	MaxConnections int           `json:"maxConnections" mapstructure:"max_connections"`
	EnableMetrics  bool          `json:"enableMetrics" mapstructure:"enable_metrics"`
}

// StoreConfig represents key-value store configuration.
type StoreConfig struct {
	DataDir  string `json:"dataDir" mapstructure:"data_dir"`
	InMemory bool   `json:"inMemory" mapstructure:"in_memory"`
}

// EngineConfig represents allocation engine defaults. All thresholds remain
// operator-tunable at runtime; these seed the initial persisted values.
type EngineConfig struct {
	Operator                Identity `json:"operator" mapstructure:"operator"`
	MinConfidenceBps        uint32   `json:"minConfidenceBps" mapstructure:"min_confidence_bps"`
	MaxDataAge              uint64   `json:"maxDataAge" mapstructure:"max_data_age"`
	MinRebalanceInterval    uint64   `json:"minRebalanceInterval" mapstructure:"min_rebalance_interval"`
	GlobalRiskMultiplierPct uint32   `json:"globalRiskMultiplierPct" mapstructure:"global_risk_multiplier_pct"`
}

// Config is the root configuration.
type Config struct {
	Server ServerConfig `json:"server" mapstructure:"server"`
	Store  StoreConfig  `json:"store" mapstructure:"store"`
	Engine EngineConfig `json:"engine" mapstructure:"engine"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel" mapstructure:"log_level"`
}

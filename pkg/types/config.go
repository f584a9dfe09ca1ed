// Package types provides configuration types for the backtest engine.
package types

import "time"

// GraphDefinition is the wire format for creating a strategy: an unordered
// node list plus the edges wiring their handles, matching the external
// interface's strategy-creation payload (§6).
type GraphDefinition struct {
	StrategyID string       `json:"strategyId"`
	Nodes      []NodeConfig `json:"nodes"`
	Edges      []EdgeConfig `json:"edges"`
}

// NodeConfig is one node's wire-format declaration: which kind to
// instantiate and its kind-specific parameters, deserialized by the node
// factory that knows each kind's concrete params shape.
type NodeConfig struct {
	ID     string         `json:"id"`
	Kind   NodeKind       `json:"kind"`
	Params map[string]any `json:"params"`
}

// EdgeConfig wires one node's output handle to another's input handle.
type EdgeConfig struct {
	FromNode   string `json:"fromNode"`
	FromHandle string `json:"fromHandle"`
	ToNode     string `json:"toNode"`
	ToHandle   string `json:"toHandle"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
	EnableMetrics  bool          `json:"enableMetrics"`
	MetricsPort    int           `json:"metricsPort"`
}

// DataConfig represents exchange-data loading configuration.
type DataConfig struct {
	DataDir         string `json:"dataDir"`
	CacheSize       int    `json:"cacheSize"` // MB
	UseMemoryMap    bool   `json:"useMemoryMap"`
	CompressionType string `json:"compressionType"` // "none", "gzip", "lz4"
}

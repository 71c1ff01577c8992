package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// DatabasePath is the SQLite file holding users and canvas metadata.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	// DataDir holds one append-only event log file per canvas.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	// HeartbeatInterval is how often a session pings its client;
	// ClientTimeout is how long a ping may go unanswered before the
	// connection is force-closed.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ClientTimeout     time.Duration `mapstructure:"client_timeout" yaml:"client_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "canvashub.db",
		DataDir:           "data",
		LogLevel:          "info",
		LogFormat:         "console",
		JWTSecret:         "dev-secret-change-me",
		JWTIssuer:         "canvashub",
		JWTAudience:       "canvashub",
		JWTTTL:            24 * time.Hour,
		HeartbeatInterval: 5 * time.Second,
		ClientTimeout:     10 * time.Second,
	}
}

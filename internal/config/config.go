package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// PresenceScope selects who receives presence-changed broadcasts:
	// "all" mirrors the historical behavior, "rooms" limits delivery to
	// clients sharing at least one room with the affected user.
	PresenceScope string `mapstructure:"presence_scope" yaml:"presence_scope"`

	// RingTimeout bounds how long a call may stay ringing before the
	// caller is told the receiver is unreachable. Zero disables the timer.
	RingTimeout time.Duration `mapstructure:"ring_timeout" yaml:"ring_timeout"`

	// MessageRateLimit caps inbound chat frames per connection per minute.
	// Zero disables limiting.
	MessageRateLimit int `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "beamtalk.db",
		JWTSecret:         "change-me",
		JWTIssuer:         "beamtalk",
		JWTAudience:       "beamtalk-clients",
		PresenceScope:     "all",
		RingTimeout:       30 * time.Second,
		MessageRateLimit:  120,
	}
}

package config

import "time"

// Server holds the chat server configuration values.
type Server struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DBPath            string        `mapstructure:"db_path" yaml:"db_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Client holds the terminal client configuration values.
type Client struct {
	ServerURL      string        `mapstructure:"server_url" yaml:"server_url"`
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
}

// Config holds all configuration values.
type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	Server   Server `mapstructure:"server" yaml:"server"`
	Client   Client `mapstructure:"client" yaml:"client"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server: Server{
			Addr:              ":8080",
			DBPath:            "gigchat.db",
			JWTSecret:         "change-me",
			TokenTTL:          24 * time.Hour,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Client: Client{
			ServerURL:      "http://localhost:8080",
			SampleInterval: 30 * time.Second,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.DBPath != "" {
		c.Server.DBPath = other.Server.DBPath
	}
	if other.Server.JWTSecret != "" {
		c.Server.JWTSecret = other.Server.JWTSecret
	}
	if other.Server.TokenTTL != 0 {
		c.Server.TokenTTL = other.Server.TokenTTL
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Client.ServerURL != "" {
		c.Client.ServerURL = other.Client.ServerURL
	}
	if other.Client.SampleInterval != 0 {
		c.Client.SampleInterval = other.Client.SampleInterval
	}
}

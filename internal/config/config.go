package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr            string `mapstructure:"addr" yaml:"addr"`
	AdminAddr       string `mapstructure:"admin_addr" yaml:"admin_addr"`
	AdminJWTSecret  string `mapstructure:"admin_jwt_secret" yaml:"admin_jwt_secret"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string `mapstructure:"log_format" yaml:"log_format"`
	DefaultChannel  string `mapstructure:"default_channel" yaml:"default_channel"`
	SearchPathsFile string `mapstructure:"search_paths_file" yaml:"search_paths_file"`
	// DatabasePath enables channel persistence when set.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	InjectTimeout     time.Duration `mapstructure:"inject_timeout" yaml:"inject_timeout"`

	InjectQueueSize int `mapstructure:"inject_queue_size" yaml:"inject_queue_size"`
	SendQueueSize   int `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	MaxFrameSize    int `mapstructure:"max_frame_size" yaml:"max_frame_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":1357",
		LogLevel:          "info",
		LogFormat:         "console",
		DefaultChannel:    "Lobby",
		SearchPathsFile:   "import_paths.cfg",
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		InjectTimeout:     30 * time.Second,
		InjectQueueSize:   64,
		SendQueueSize:     64,
		MaxFrameSize:      4 << 20,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.AdminJWTSecret != "" {
		c.AdminJWTSecret = other.AdminJWTSecret
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DefaultChannel != "" {
		c.DefaultChannel = other.DefaultChannel
	}
	if other.SearchPathsFile != "" {
		c.SearchPathsFile = other.SearchPathsFile
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.InjectTimeout != 0 {
		c.InjectTimeout = other.InjectTimeout
	}
	if other.InjectQueueSize != 0 {
		c.InjectQueueSize = other.InjectQueueSize
	}
	if other.SendQueueSize != 0 {
		c.SendQueueSize = other.SendQueueSize
	}
	if other.MaxFrameSize != 0 {
		c.MaxFrameSize = other.MaxFrameSize
	}
}

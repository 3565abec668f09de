package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix            = "SCOPECHAT"
	envConfigDefaultPath = "SCOPECHAT_CONFIG_DEFAULT_PATH"
	defaultConfigName    = "config.yaml"
)

// Load builds configuration from defaults, optional config file, env vars, and returns the resolved path.
// Precedence: defaults < config file < env vars < caller overrides.
func Load(logger *zerolog.Logger, explicitPath string) (Config, string, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := readOrSeed(v, configPath, cfg, logger); err != nil {
		return cfg, configPath, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, configPath, nil
}

// readOrSeed reads the config file, writing defaults first when it does not
// exist yet. Failing to seed is not fatal; defaults and env still apply.
func readOrSeed(v *viper.Viper, path string, defaults Config, logger *zerolog.Logger) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		return nil
	case !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read config %s: %w", path, err)
	}

	if err := writeDefaultConfig(path, defaults); err != nil {
		if logger != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to write default config")
		}
		return nil
	}
	if logger != nil {
		logger.Info().Str("path", path).Msg("created default config")
	}
	if err := v.ReadInConfig(); err != nil && logger != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read config after writing default")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("admin_addr", cfg.AdminAddr)
	v.SetDefault("admin_jwt_secret", cfg.AdminJWTSecret)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("default_channel", cfg.DefaultChannel)
	v.SetDefault("search_paths_file", cfg.SearchPathsFile)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("handshake_timeout", cfg.HandshakeTimeout)
	v.SetDefault("write_timeout", cfg.WriteTimeout)
	v.SetDefault("read_header_timeout", cfg.ReadHeaderTimeout)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("inject_timeout", cfg.InjectTimeout)
	v.SetDefault("inject_queue_size", cfg.InjectQueueSize)
	v.SetDefault("send_queue_size", cfg.SendQueueSize)
	v.SetDefault("max_frame_size", cfg.MaxFrameSize)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

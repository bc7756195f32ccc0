package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"echo-fixture/adapter"
)

const configFileName = "fixture.json"

type Config struct {
	// Host overrides the model's default bind host when set.
	Host              string `mapstructure:"host"`
	LogLevel          string `mapstructure:"log_level"`
	ReadTimeoutMs     int    `mapstructure:"read_timeout_ms"`
	ShutdownTimeoutMs int    `mapstructure:"shutdown_timeout_ms"`
	MaxBodyBytes      int    `mapstructure:"max_body_bytes"`
	ChunkSize         int    `mapstructure:"chunk_size"`
	// FramesAddr enables the WebSocket frame ingress of the streaming model.
	FramesAddr string `mapstructure:"frames_addr"`
}

// defaultConfig returns the values used when fixture.json is missing or a
// field in it is invalid.
func defaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		ReadTimeoutMs:     30_000,
		ShutdownTimeoutMs: 10_000,
		MaxBodyBytes:      16 << 20,
		ChunkSize:         16 * 1024,
	}
}

func (c *Config) adapterOptions() adapter.Options {
	return adapter.Options{
		ReadTimeout:  time.Duration(c.ReadTimeoutMs) * time.Millisecond,
		MaxBodyBytes: c.MaxBodyBytes,
		ChunkSize:    c.ChunkSize,
	}
}

func (c *Config) shutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

func (c *Config) level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// newViper layers the config file, FIXTURE_* environment variables and
// defaults. Flags are bound by the caller and take precedence over all three.
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("FIXTURE")
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("host", def.Host)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("read_timeout_ms", def.ReadTimeoutMs)
	v.SetDefault("shutdown_timeout_ms", def.ShutdownTimeoutMs)
	v.SetDefault("max_body_bytes", def.MaxBodyBytes)
	v.SetDefault("chunk_size", def.ChunkSize)
	v.SetDefault("frames_addr", def.FramesAddr)
	return v
}

// loadConfig reads the config file into v and returns the validated config.
// Any invalid field falls back to its default.
func loadConfig(v *viper.Viper, log *zap.Logger) *Config {
	path := v.ConfigFileUsed()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			log.Info("no config file found, using defaults and environment", zap.String("path", path))
		} else {
			log.Warn("invalid config file, using defaults and environment", zap.String("path", path), zap.Error(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Warn("config does not decode, using defaults", zap.Error(err))
		return defaultConfig()
	}

	def := defaultConfig()

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		log.Warn("log_level is invalid, falling back", zap.String("log_level", cfg.LogLevel), zap.String("default", def.LogLevel))
		cfg.LogLevel = def.LogLevel
	}

	if cfg.ReadTimeoutMs <= 0 {
		log.Warn("read_timeout_ms is invalid, falling back", zap.Int("read_timeout_ms", cfg.ReadTimeoutMs), zap.Int("default", def.ReadTimeoutMs))
		cfg.ReadTimeoutMs = def.ReadTimeoutMs
	}

	if cfg.ShutdownTimeoutMs <= 0 {
		log.Warn("shutdown_timeout_ms is invalid, falling back", zap.Int("shutdown_timeout_ms", cfg.ShutdownTimeoutMs), zap.Int("default", def.ShutdownTimeoutMs))
		cfg.ShutdownTimeoutMs = def.ShutdownTimeoutMs
	}

	if cfg.MaxBodyBytes <= 0 {
		log.Warn("max_body_bytes is invalid, falling back", zap.Int("max_body_bytes", cfg.MaxBodyBytes), zap.Int("default", def.MaxBodyBytes))
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	if cfg.ChunkSize <= 0 {
		log.Warn("chunk_size is invalid, falling back", zap.Int("chunk_size", cfg.ChunkSize), zap.Int("default", def.ChunkSize))
		cfg.ChunkSize = def.ChunkSize
	}

	if cfg.FramesAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.FramesAddr); err != nil {
			log.Warn("frames_addr is invalid, frame ingress disabled", zap.String("frames_addr", cfg.FramesAddr), zap.Error(err))
			cfg.FramesAddr = ""
		}
	}

	return &cfg
}

// watchConfig reloads the config file whenever it is written. Only the log
// level is applied live; other changes are logged and wait for a restart.
func watchConfig(ctx context.Context, v *viper.Viper, level zap.AtomicLevel, current *Config, log *zap.Logger) error {
	path := v.ConfigFileUsed()
	if _, err := os.Stat(path); err != nil {
		log.Debug("config file not present, not watching", zap.String("path", path))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	log.Info("watching config file", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			next := loadConfig(v, log)
			level.SetLevel(next.level())
			log.Info("config reloaded", zap.String("log_level", next.LogLevel))

			if changed := restartFields(current, next); len(changed) > 0 {
				log.Warn("config changes need a restart", zap.Strings("fields", changed))
			}
			current = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// restartFields lists the fields that differ between two configs and cannot
// be applied to running listeners.
func restartFields(old, next *Config) []string {
	var changed []string
	if old.Host != next.Host {
		changed = append(changed, "host")
	}
	if old.ReadTimeoutMs != next.ReadTimeoutMs {
		changed = append(changed, "read_timeout_ms")
	}
	if old.ShutdownTimeoutMs != next.ShutdownTimeoutMs {
		changed = append(changed, "shutdown_timeout_ms")
	}
	if old.MaxBodyBytes != next.MaxBodyBytes {
		changed = append(changed, "max_body_bytes")
	}
	if old.ChunkSize != next.ChunkSize {
		changed = append(changed, "chunk_size")
	}
	if old.FramesAddr != next.FramesAddr {
		changed = append(changed, "frames_addr")
	}
	return changed
}

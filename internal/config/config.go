package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/loykin/torquelog/internal/env"
	"github.com/loykin/torquelog/internal/scheduler"
)

// EnvPrefix prefixes environment overrides, e.g. TORQUELOG_DATABASE_DSN.
const EnvPrefix = "TORQUELOG"

// Config represents the top-level TOML structure.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	TorqueLog TorqueLogConfig `mapstructure:"torque_log"`
	Log       LogConfig       `mapstructure:"log"`
	History   HistoryConfig   `mapstructure:"history"`
	Server    ServerConfig    `mapstructure:"server"`
}

type DatabaseConfig struct {
	DSN          string        `mapstructure:"dsn" validate:"required,dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns" validate:"min=0"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" validate:"min=0"`
	ConnMaxAge   time.Duration `mapstructure:"conn_max_age" validate:"min=0"`
}

// TorqueLogConfig describes the watched folder.
// Sizes accept "10k", "2M", "1G" (binary multiples) or any humanize byte string.
type TorqueLogConfig struct {
	Path       string        `mapstructure:"path" validate:"required,dirpath"`
	Pattern    string        `mapstructure:"pattern" validate:"required,glob"`
	CheckEvery string        `mapstructure:"check_every" validate:"required,every"`
	MinSize    string        `mapstructure:"min_size" validate:"omitempty,size"`
	MaxSize    string        `mapstructure:"max_size" validate:"omitempty,size"`
	Downsample time.Duration `mapstructure:"downsample" validate:"min=0"`
	Location   string        `mapstructure:"location" validate:"omitempty,timezone"`
}

type LogConfig struct {
	Level  string        `mapstructure:"level" validate:"omitempty,loglevel"`
	Format string        `mapstructure:"format" validate:"omitempty,logformat"`
	Color  bool          `mapstructure:"color"`
	File   FileLogConfig `mapstructure:"file"`
}

type FileLogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks" validate:"dive,required,sinkdsn"`
}

type ServerConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Listen   string    `mapstructure:"listen" validate:"required_if=Enabled true"`
	BasePath string    `mapstructure:"base_path"`
	Metrics  bool      `mapstructure:"metrics"`
	TLS      TLSConfig `mapstructure:"tls"`
}

// TLSConfig enables HTTPS for the API. Either CertFile/KeyFile or Dir must be
// set; with AutoGenerate a self-signed pair is created in Dir when missing.
type TLSConfig struct {
	Enabled      bool       `mapstructure:"enabled"`
	CertFile     string     `mapstructure:"cert_file" validate:"required_with=KeyFile"`
	KeyFile      string     `mapstructure:"key_file" validate:"required_with=CertFile"`
	Dir          string     `mapstructure:"dir"`
	AutoGenerate bool       `mapstructure:"auto_generate"`
	AutoGen      AutoGenTLS `mapstructure:"auto_gen"`
	MinVersion   string     `mapstructure:"min_version" validate:"omitempty,tlsversion"`
	MaxVersion   string     `mapstructure:"max_version" validate:"omitempty,tlsversion"`
}

type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days" validate:"min=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.max_idle_conns", 0)
	v.SetDefault("database.conn_max_age", "0s")
	v.SetDefault("torque_log.path", "")
	v.SetDefault("torque_log.pattern", "*.csv")
	v.SetDefault("torque_log.check_every", "@every 30s")
	v.SetDefault("torque_log.min_size", "")
	v.SetDefault("torque_log.max_size", "")
	v.SetDefault("torque_log.downsample", "0s")
	v.SetDefault("torque_log.location", "UTC")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 7)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.metrics", true)
	v.SetDefault("server.tls.enabled", false)
}

// Load reads a TOML file, applies TORQUELOG_* environment overrides and validates the result.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(filepath.Clean(path))
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expandEnv(env.New())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv resolves ${VAR} references in DSNs and paths.
func (c *Config) expandEnv(e *env.Env) {
	c.Database.DSN = e.Expand(c.Database.DSN)
	c.TorqueLog.Path = e.Expand(c.TorqueLog.Path)
	c.Log.File.Path = e.Expand(c.Log.File.Path)
	c.History.Sinks = e.ExpandAll(c.History.Sinks)
	c.Server.TLS.CertFile = e.Expand(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = e.Expand(c.Server.TLS.KeyFile)
	c.Server.TLS.Dir = e.Expand(c.Server.TLS.Dir)
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("configuration validation error: %w", err)
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := fmt.Sprintf("validation failed for '%s': rule '%s'", strings.TrimPrefix(e.Namespace(), "Config."), e.Tag())
		if e.Param() != "" {
			msg += fmt.Sprintf(" (expected: %s)", e.Param())
		}
		if e.Value() != nil && e.Value() != "" {
			msg += fmt.Sprintf(", actual: '%v'", e.Value())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("configuration validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

func newValidator() *validator.Validate {
	validate := validator.New()

	_ = validate.RegisterValidation("dirpath", func(fl validator.FieldLevel) bool {
		info, err := os.Stat(fl.Field().String())
		return err == nil && info.IsDir()
	})
	_ = validate.RegisterValidation("glob", func(fl validator.FieldLevel) bool {
		_, err := filepath.Match(fl.Field().String(), "")
		return err == nil
	})
	_ = validate.RegisterValidation("every", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParseEvery(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		_, err := ParseSize(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", "debug", "info", "warn", "warning", "error":
			return true
		default:
			return false
		}
	})
	_ = validate.RegisterValidation("logformat", func(fl validator.FieldLevel) bool {
		switch strings.ToLower(fl.Field().String()) {
		case "", "text", "json":
			return true
		default:
			return false
		}
	})
	_ = validate.RegisterValidation("dsn", func(fl validator.FieldLevel) bool {
		return storeDSN(fl.Field().String())
	})
	_ = validate.RegisterValidation("sinkdsn", func(fl validator.FieldLevel) bool {
		return sinkDSN(fl.Field().String())
	})
	_ = validate.RegisterValidation("tlsversion", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "default", "1.2", "TLS1.2", "tls1.2", "1.3", "TLS1.3", "tls1.3":
			return true
		}
		return false
	})

	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		tl := sl.Current().Interface().(TorqueLogConfig)
		lo, errLo := ParseSize(tl.MinSize)
		hi, errHi := ParseSize(tl.MaxSize)
		if errLo == nil && errHi == nil && lo > 0 && hi > 0 && lo > hi {
			sl.ReportError(tl.MinSize, "MinSize", "MinSize", "ltemax", tl.MaxSize)
		}
	}, TorqueLogConfig{})
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		tc := sl.Current().Interface().(TLSConfig)
		if tc.Enabled && tc.CertFile == "" && tc.Dir == "" {
			sl.ReportError(tc.CertFile, "CertFile", "CertFile", "tlssource", "")
		}
	}, TLSConfig{})

	return validate
}

func storeDSN(d string) bool {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return false
	}
	for _, p := range []string{"postgres://", "postgresql://", "sqlite://"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return !strings.Contains(d, "://")
}

func sinkDSN(d string) bool {
	if storeDSN(d) {
		return true
	}
	d = strings.ToLower(strings.TrimSpace(d))
	for _, p := range []string{"clickhouse://", "opensearch://", "opensearchs://", "elasticsearch://"} {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}

// ParseSize parses a byte size. A bare k, M, G or T suffix is read as a
// binary multiple ("10k" is 10240 bytes). Empty means zero (unbounded).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n := len(s); n >= 2 && strings.ContainsRune("kKmMgGtT", rune(s[n-1])) &&
		strings.ContainsRune("0123456789. ", rune(s[n-2])) {
		s += "i"
	}
	b, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if b > math.MaxInt64 {
		return 0, fmt.Errorf("size %q overflows", s)
	}
	return int64(b), nil
}

// Interval returns the sweep period.
func (t TorqueLogConfig) Interval() (time.Duration, error) {
	return scheduler.ParseEvery(t.CheckEvery)
}

// SizeBounds returns the min and max accepted file size in bytes; zero is unbounded.
func (t TorqueLogConfig) SizeBounds() (minSize, maxSize int64, err error) {
	if minSize, err = ParseSize(t.MinSize); err != nil {
		return 0, 0, err
	}
	if maxSize, err = ParseSize(t.MaxSize); err != nil {
		return 0, 0, err
	}
	return minSize, maxSize, nil
}

// TimeLocation resolves Location, defaulting to UTC.
func (t TorqueLogConfig) TimeLocation() (*time.Location, error) {
	if t.Location == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(t.Location)
}

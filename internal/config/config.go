package config

import (
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

type Config struct {
	ListenAddr  string `envconfig:"LISTEN" default:"0.0.0.0:9000"`
	DiskPath    string `envconfig:"DISK" default:"/var/lib/tinyfs/disk.img"`
	DiskSectors uint32 `envconfig:"DISK_SECTORS" default:"4096"`
	Format      bool   `envconfig:"FORMAT" default:"false"`
	AuthToken   string `envconfig:"TOKEN" default:"admin"`
	EncryptKey  string `envconfig:"KEY" default:"default-encryption-key-32bytes!"`
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("tinyfs", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) LogLevel() LogLevel {
	switch strings.ToLower(c.Level) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

package injector

import (
	"github.com/zeusync/framesync/internal/config"
	"github.com/zeusync/framesync/internal/core/observability/log"
)

// ConfigPath is the optional YAML configuration file.
type ConfigPath string

func ProvideConfig(path ConfigPath) (config.Config, error) {
	return config.Load(string(path))
}

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

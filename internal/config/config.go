// Package config loads process configuration from defaults, an optional
// YAML file and FRAMESYNC_* environment variables, in that order.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/transport"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FRAMESYNC_"

// Transport kinds.
const (
	TransportWebsocket = "websocket"
	TransportQUIC      = "quic"
)

type Config struct {
	Log         Log         `yaml:"log" envPrefix:"LOG_"`
	Storage     Storage     `yaml:"storage" envPrefix:"STORAGE_"`
	Replication Replication `yaml:"replication" envPrefix:"REPLICATION_"`
	Transport   Transport   `yaml:"transport" envPrefix:"TRANSPORT_"`
}

type Log struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type Storage struct {
	// Alignment of every component slot; 64 keeps slots on their own cache line.
	Alignment int `yaml:"alignment" env:"ALIGNMENT"`
	// IndexHint pre-sizes each store's identity index.
	IndexHint int `yaml:"index_hint" env:"INDEX_HINT"`
}

type Replication struct {
	// History is the number of frames the sender retains.
	History int `yaml:"history" env:"HISTORY"`
	// QueueSize bounds every queue between actors.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// ResyncAfter is how many consecutive rejected transmissions make an
	// observer ask for a full frame.
	ResyncAfter int `yaml:"resync_after" env:"RESYNC_AFTER"`
	// TickRate is simulation ticks per second.
	TickRate int `yaml:"tick_rate" env:"TICK_RATE"`
}

type Transport struct {
	Kind           string        `yaml:"kind" env:"KIND"`
	Address        string        `yaml:"address" env:"ADDRESS"`
	Path           string        `yaml:"path" env:"PATH"`
	MaxMessageSize int           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

func Default() Config {
	return Config{
		Log:     Log{Level: "info"},
		Storage: Storage{Alignment: 64, IndexHint: 64},
		Replication: Replication{
			History:     16,
			QueueSize:   64,
			ResyncAfter: 3,
			TickRate:    20,
		},
		Transport: Transport{
			Kind:           TransportWebsocket,
			Address:        "127.0.0.1:7450",
			Path:           "/replication",
			MaxMessageSize: transport.DefaultMaxMessageSize,
			WriteTimeout:   5 * time.Second,
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "open config")
		}
		defer func() { _ = f.Close() }()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err = dec.Decode(&cfg); err != nil {
			return Config{}, errors.Wrapf(err, "decode %s", path)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Storage.Alignment <= 0 || c.Storage.Alignment&(c.Storage.Alignment-1) != 0:
		return errors.Errorf("storage.alignment must be a power of two, got %d", c.Storage.Alignment)
	case c.Replication.History < 1:
		return errors.Errorf("replication.history must be positive, got %d", c.Replication.History)
	case c.Replication.QueueSize < 1:
		return errors.Errorf("replication.queue_size must be positive, got %d", c.Replication.QueueSize)
	case c.Replication.ResyncAfter < 1:
		return errors.Errorf("replication.resync_after must be positive, got %d", c.Replication.ResyncAfter)
	case c.Replication.TickRate < 1:
		return errors.Errorf("replication.tick_rate must be positive, got %d", c.Replication.TickRate)
	case c.Transport.Kind != TransportWebsocket && c.Transport.Kind != TransportQUIC:
		return errors.Errorf("transport.kind must be %q or %q, got %q", TransportWebsocket, TransportQUIC, c.Transport.Kind)
	case c.Transport.Address == "":
		return errors.New("transport.address is required")
	}
	return nil
}

// LogLevel parses the configured level.
func (c Config) LogLevel() log.Level {
	return log.ParseLevel(c.Log.Level)
}

// TickInterval is the simulation period.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Replication.TickRate)
}

// TransportConfig is the transport section in the form the transports take.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		MaxMessageSize: c.Transport.MaxMessageSize,
		WriteTimeout:   c.Transport.WriteTimeout,
		Path:           c.Transport.Path,
	}.WithDefaults()
}

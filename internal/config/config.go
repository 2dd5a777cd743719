// Package config loads the tracker's YAML configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Server ServerSettings `yaml:"server" validate:"required"`
	Store  StoreSettings  `yaml:"store"`
	Relay  RelaySettings  `yaml:"relay"`
	Ingest IngestSettings `yaml:"ingest"`
	Log    LogSettings    `yaml:"log"`
}

type ServerSettings struct {
	Port           int      `yaml:"port" validate:"gt=0,lte=65535"`
	AuthToken      string   `yaml:"authToken"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type StoreSettings struct {
	Path      string `yaml:"path"`
	PoolSize  int    `yaml:"poolSize" validate:"gte=0"`
	SeedPath  string `yaml:"seedPath"`
	WatchSeed bool   `yaml:"watchSeed"`
}

type RelaySettings struct {
	ObserverBufferSize int `yaml:"observerBufferSize" validate:"gte=0"`
}

// IngestSettings configures the optional Kafka ingress. The relay works
// without a broker; the HTTP ingress is always available.
type IngestSettings struct {
	Kafka KafkaSettings `yaml:"kafka"`
}

type KafkaSettings struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupId"`
}

func (k KafkaSettings) Enabled() bool {
	return len(k.Brokers) > 0
}

type LogSettings struct {
	Level      string `yaml:"level"`
	BufferSize int    `yaml:"bufferSize" validate:"gte=0"`
}

// Default returns the settings used when no config file is given.
func Default() Settings {
	return Settings{
		Server: ServerSettings{Port: 8080},
		Store: StoreSettings{
			Path: "routes.db",
		},
		Ingest: IngestSettings{
			Kafka: KafkaSettings{
				Topic:   "route.new-position",
				GroupID: "tracker",
			},
		},
		Log: LogSettings{Level: "info"},
	}
}

// Load reads and validates settings from a YAML file. An empty path returns
// the defaults.
func Load(path string) (Settings, error) {
	settings := Default()
	if path == "" {
		return settings, nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(payload, &settings); err != nil {
		return Settings{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := Validate(settings); err != nil {
		return Settings{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return settings, nil
}

// Validate checks the structural constraints on settings.
func Validate(settings Settings) error {
	v := validator.New()
	if err := v.Struct(settings); err != nil {
		return err
	}
	if settings.Ingest.Kafka.Enabled() && settings.Ingest.Kafka.Topic == "" {
		return fmt.Errorf("ingest.kafka.topic is required when brokers are set")
	}
	return nil
}

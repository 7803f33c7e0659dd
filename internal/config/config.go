package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                 int    `env:"DOMSCRIBR_PORT" envDefault:"8710"`
	NatsURL              string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	SubjectPrefix        string `env:"DOMSCRIBR_SUBJECT_PREFIX" envDefault:"domscribr"`
	DatabaseURL          string `env:"DATABASE_URL"`
	SQLitePath           string `env:"SQLITE_PATH" envDefault:"domscribr.db"`
	BatchFlushIntervalMS int    `env:"BATCH_FLUSH_INTERVAL_MS" envDefault:"1000"`
	BatchFlushThreshold  int    `env:"BATCH_FLUSH_THRESHOLD" envDefault:"50"`
	BufferMaxSize        int    `env:"BUFFER_MAX_SIZE" envDefault:"10000"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
	RequestTimeoutMS     int    `env:"REQUEST_TIMEOUT_MS" envDefault:"2000"`
	ContextID            string `env:"DOMSCRIBR_CONTEXT_ID"`
	DocumentURL          string `env:"DOMSCRIBR_DOCUMENT_URL"`
}

// Load reads the environment, after loading envFiles (".env" when none are
// given) without overriding variables that are already set. Missing env
// files are ignored.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.SubjectPrefix == "" {
		return Config{}, errors.New("DOMSCRIBR_SUBJECT_PREFIX must not be empty")
	}
	return cfg, nil
}

func (c Config) BatchFlushInterval() time.Duration {
	return time.Duration(c.BatchFlushIntervalMS) * time.Millisecond
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type ClientConfig struct {
	APIBaseURL     string        `env:"CLICKER_API_URL" envDefault:"http://localhost:3001"`
	WSURL          string        `env:"CLICKER_WS_URL" envDefault:"ws://localhost:3001/game/ws"`
	RequestTimeout time.Duration `env:"CLICKER_REQUEST_TIMEOUT" envDefault:"10s"`
	ConnectTimeout time.Duration `env:"CLICKER_CONNECT_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"CLICKER_WRITE_TIMEOUT" envDefault:"5s"`

	MaxReconnectAttempts int           `env:"CLICKER_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectBaseDelay   time.Duration `env:"CLICKER_RECONNECT_BASE_DELAY" envDefault:"1s"`

	// file | redis | memory
	CredentialBackend string `env:"CLICKER_CREDENTIAL_BACKEND" envDefault:"file"`
	CredentialDir     string `env:"CLICKER_CREDENTIAL_DIR"`
	RedisURL          string `env:"CLICKER_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisNamespace    string `env:"CLICKER_REDIS_NAMESPACE" envDefault:"default"`

	LeaderboardLimit    int           `env:"CLICKER_LEADERBOARD_LIMIT" envDefault:"10"`
	PassiveSyncInterval time.Duration `env:"CLICKER_PASSIVE_SYNC_INTERVAL" envDefault:"1s"`
}

type SandboxConfig struct {
	Addr         string        `env:"SANDBOX_ADDR" envDefault:":3001"`
	TokenTTL     time.Duration `env:"SANDBOX_TOKEN_TTL" envDefault:"30m"`
	RefreshGrace time.Duration `env:"SANDBOX_REFRESH_GRACE" envDefault:"24h"`
	BcryptCost   int           `env:"SANDBOX_BCRYPT_COST" envDefault:"10"`
	TickInterval time.Duration `env:"SANDBOX_TICK_INTERVAL" envDefault:"1s"`

	ExclusiveConnections bool `env:"SANDBOX_EXCLUSIVE_CONNECTIONS" envDefault:"false"`
}

type LogConfig struct {
	Level       string `env:"LOG_LEVEL" envDefault:"info"`
	Development bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// LoadDotEnv loads the given .env files (".env" when none are given). Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	err := env.Parse(&cfg)
	return cfg, err
}

func LoadSandbox() (SandboxConfig, error) {
	var cfg SandboxConfig
	err := env.Parse(&cfg)
	return cfg, err
}

func LoadLog() (LogConfig, error) {
	var cfg LogConfig
	err := env.Parse(&cfg)
	return cfg, err
}

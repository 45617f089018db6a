package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Store      StoreConfig
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Upload     UploadConfig
	Stats      StatsConfig
	Recordings RecordingsConfig
	Outbox     OutboxConfig
	List       ListConfig
	Export     ExportConfig
}

type StoreConfig struct {
	URL      string
	Timeout  time.Duration
	Email    string
	Password string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type UploadConfig struct {
	Concurrency int
}

type StatsConfig struct {
	Concurrency int
}

type RecordingsConfig struct {
	// Timezone of the times embedded in recording file names: an IANA name
	// or a fixed offset such as "+05:00".
	Timezone string
}

type OutboxConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
}

type ListConfig struct {
	PerPage int
}

type ExportConfig struct {
	// RFC4180 quotes CSV fields instead of writing the legacy unquoted rows.
	RFC4180 bool
}

// ConfigBackend abstracts platform-specific config storage.
// macOS uses UserDefaults (via `defaults` CLI), other platforms a JSON file.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Port: 4300,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Upload: UploadConfig{
			Concurrency: 4,
		},
		Stats: StatsConfig{
			Concurrency: 8,
		},
		Recordings: RecordingsConfig{
			Timezone: "+05:00",
		},
		Outbox: OutboxConfig{
			PollInterval: 5 * time.Second,
			MaxAttempts:  5,
		},
		List: ListConfig{
			PerPage: 30,
		},
	}
}

// ErrMissingStoreURL is returned by RequireStore when no store URL is set.
var ErrMissingStoreURL = errors.New("missing required config: store URL")

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret
// store.
//
// On macOS the backend is UserDefaults (domain: com.tableturnerr.ttcrm) and
// secrets live in the Keychain.
// On other platforms the backend is a JSON file at
// $XDG_CONFIG_HOME/ttcrm/config.json and secrets a 0600 JSON file under
// $XDG_DATA_HOME/ttcrm.
//
// Variables from .env never replace variables already set in the
// environment. Environment variables (TTCRM_*) override backend values.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newPlatformBackend(), NewKeychain())
}

func loadWith(b ConfigBackend, kc SecretStore) (Config, error) {
	cfg := defaults()

	if err := applySource(&cfg, "config key", backendSource(b)); err != nil {
		return Config{}, err
	}
	if err := applySource(&cfg, "env var for", envSource); err != nil {
		return Config{}, err
	}

	if cfg.Store.Password == "" {
		if v, err := kc.Get(secretService, accountStorePassword); err == nil {
			cfg.Store.Password = v
		}
	}
	if cfg.Server.APIToken == "" {
		if v, err := kc.Get(secretService, accountAPIToken); err == nil {
			cfg.Server.APIToken = v
		}
	}

	return cfg, nil
}

// RequireStore reports whether the remote store is configured.
func (c Config) RequireStore() error {
	if c.Store.URL == "" {
		return fmt.Errorf("%w. Set it via environment variable TTCRM_STORE_URL, .env, or `ttcrm config set store.url <url>`", ErrMissingStoreURL)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "store.url", typ: kString, env: "TTCRM_STORE_URL",
		apply:   func(cfg *Config, v any) { cfg.Store.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.URL },
	},
	{
		key: "store.timeout", typ: kDuration, env: "TTCRM_STORE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Store.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Store.Timeout },
	},
	{
		key: "store.email", typ: kString, env: "TTCRM_STORE_EMAIL",
		apply:   func(cfg *Config, v any) { cfg.Store.Email = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Email },
	},
	{
		key: "store.password", typ: kString, env: "TTCRM_STORE_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Store.Password = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Password },
	},
	{
		key: "server.port", typ: kInt, env: "TTCRM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TTCRM_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TTCRM_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TTCRM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "upload.concurrency", typ: kInt, env: "TTCRM_UPLOAD_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Upload.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.Concurrency },
	},
	{
		key: "stats.concurrency", typ: kInt, env: "TTCRM_STATS_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Stats.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Stats.Concurrency },
	},
	{
		key: "recordings.timezone", typ: kString, env: "TTCRM_RECORDINGS_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Recordings.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Recordings.Timezone },
	},
	{
		key: "outbox.poll_interval", typ: kDuration, env: "TTCRM_OUTBOX_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Outbox.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Outbox.PollInterval },
	},
	{
		key: "outbox.max_attempts", typ: kInt, env: "TTCRM_OUTBOX_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Outbox.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Outbox.MaxAttempts },
	},
	{
		key: "list.per_page", typ: kInt, env: "TTCRM_LIST_PER_PAGE",
		apply:   func(cfg *Config, v any) { cfg.List.PerPage = v.(int) },
		extract: func(cfg Config) any { return cfg.List.PerPage },
	},
	{
		key: "export.rfc4180", typ: kBool, env: "TTCRM_EXPORT_RFC4180",
		apply:   func(cfg *Config, v any) { cfg.Export.RFC4180 = v.(bool) },
		extract: func(cfg Config) any { return cfg.Export.RFC4180 },
	},
}

// parse converts raw into the Go type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

// source yields the raw value of a key from one config layer.
type source func(s keySpec) (raw string, ok bool, err error)

func backendSource(b ConfigBackend) source {
	return func(s keySpec) (string, bool, error) {
		if s.secret {
			return "", false, nil
		}
		if s.typ == kInt {
			n, ok, err := b.GetInt(s.key)
			return strconv.Itoa(n), ok, err
		}
		return b.GetString(s.key)
	}
}

func envSource(s keySpec) (string, bool, error) {
	if s.env == "" {
		return "", false, nil
	}
	v := os.Getenv(s.env)
	return v, v != "", nil
}

// applySource overlays one layer on cfg. Values that do not parse are
// reported and leave the previous value in place.
func applySource(cfg *Config, name string, src source) error {
	for _, s := range specs {
		raw, ok, err := src(s)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s %s=%q: %v\n", name, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

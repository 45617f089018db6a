package config

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]string

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	var i int
	if _, err := fmt.Sscan(v, &i); err != nil {
		return 0, true, err
	}
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error {
	m[key] = fmt.Sprint(val)
	return nil
}
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

// mockKeychain is an in-memory SecretStore.
type mockKeychain struct {
	items map[string]string
	err   error
}

func newMockKeychain() *mockKeychain {
	return &mockKeychain{items: make(map[string]string)}
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	v, ok := m.items[service+"/"+account]
	if !ok {
		return "", ErrNoSecret
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.err != nil {
		return m.err
	}
	m.items[service+"/"+account] = value
	return nil
}

func (m *mockKeychain) Delete(service, account string) error {
	if _, ok := m.items[service+"/"+account]; !ok {
		return ErrNoSecret
	}
	delete(m.items, service+"/"+account)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when nothing is configured.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4300 {
		t.Errorf("Server.Port = %d, want 4300", cfg.Server.Port)
	}
	if cfg.Store.Timeout != 30*time.Second {
		t.Errorf("Store.Timeout = %v, want 30s", cfg.Store.Timeout)
	}
	if cfg.Outbox.PollInterval != 5*time.Second || cfg.Outbox.MaxAttempts != 5 {
		t.Errorf("Outbox = %+v", cfg.Outbox)
	}
	if cfg.Recordings.Timezone != "+05:00" {
		t.Errorf("Recordings.Timezone = %q", cfg.Recordings.Timezone)
	}
	if cfg.Upload.Concurrency != 4 || cfg.Stats.Concurrency != 8 || cfg.List.PerPage != 30 {
		t.Errorf("concurrency/per-page defaults = %d/%d/%d", cfg.Upload.Concurrency, cfg.Stats.Concurrency, cfg.List.PerPage)
	}
	if cfg.Export.RFC4180 {
		t.Error("Export.RFC4180 should default to false")
	}
	if !errors.Is(cfg.RequireStore(), ErrMissingStoreURL) {
		t.Errorf("RequireStore() = %v, want ErrMissingStoreURL", cfg.RequireStore())
	}
}

// TestBackendValues verifies that every typed key is read from the backend.
func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := mapBackend{
		"store.url":            "https://crm.example.com",
		"store.timeout":        "10s",
		"server.port":          "5000",
		"storage.data_dir":     "/tmp/ttcrm-test",
		"outbox.poll_interval": "1m",
		"export.rfc4180":       "true",
	}

	cfg, err := loadWith(b, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.URL != "https://crm.example.com" {
		t.Errorf("Store.URL = %q", cfg.Store.URL)
	}
	if cfg.Store.Timeout != 10*time.Second {
		t.Errorf("Store.Timeout = %v", cfg.Store.Timeout)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/ttcrm-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Outbox.PollInterval != time.Minute {
		t.Errorf("Outbox.PollInterval = %v", cfg.Outbox.PollInterval)
	}
	if !cfg.Export.RFC4180 {
		t.Error("Export.RFC4180 = false")
	}
	if err := cfg.RequireStore(); err != nil {
		t.Errorf("RequireStore() = %v", err)
	}
}

// TestBadBackendValueKeepsDefault verifies unparsable values fall back to defaults.
func TestBadBackendValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(mapBackend{"store.timeout": "soon"}, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Timeout != 30*time.Second {
		t.Errorf("Store.Timeout = %v, want default", cfg.Store.Timeout)
	}
}

// TestEnvOverride verifies that environment variables override backend values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("TTCRM_STORE_URL", "https://env.example.com")
	t.Setenv("TTCRM_SERVER_PORT", "6000")
	t.Setenv("TTCRM_UPLOAD_CONCURRENCY", "not-a-number")

	cfg, err := loadWith(mapBackend{"store.url": "https://file.example.com"}, newMockKeychain())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.URL != "https://env.example.com" {
		t.Errorf("Store.URL = %q", cfg.Store.URL)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Upload.Concurrency != 4 {
		t.Errorf("Upload.Concurrency = %d, want default", cfg.Upload.Concurrency)
	}
}

// TestSecrets verifies secrets come from the environment first, then the secret store.
func TestSecrets(t *testing.T) {
	clearEnv(t)
	kc := newMockKeychain()
	kc.items["ttcrm/store_password"] = "keychain-pass"
	kc.items["ttcrm/api_token"] = "keychain-token"

	// Secrets stored in the backend are ignored.
	cfg, err := loadWith(mapBackend{"store.password": "file-pass"}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Password != "keychain-pass" || cfg.Server.APIToken != "keychain-token" {
		t.Errorf("secrets = %q/%q", cfg.Store.Password, cfg.Server.APIToken)
	}

	t.Setenv("TTCRM_STORE_PASSWORD", "env-pass")
	cfg, err = loadWith(mapBackend{}, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Password != "env-pass" {
		t.Errorf("Store.Password = %q, want env-pass", cfg.Store.Password)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Store.Password = "hunter2"
	for _, k := range ShowAll(cfg) {
		if k.Key == "store.password" || k.Key == "server.api_token" || k.Value == "hunter2" {
			t.Errorf("secret shown: %+v", k)
		}
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	if err := setKey(b, "server.port", "4400"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b["server.port"] != "4400" {
		t.Errorf("server.port = %q", b["server.port"])
	}
	if err := setKey(b, "outbox.poll_interval", "30s"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	tests := []struct {
		key, value string
	}{
		{"server.port", "lots"},
		{"outbox.poll_interval", "often"},
		{"export.rfc4180", "maybe"},
		{"store.password", "hunter2"},
		{"no.such.key", "x"},
	}
	for _, tt := range tests {
		if err := setKey(b, tt.key, tt.value); err == nil {
			t.Errorf("setKey(%s, %s) succeeded", tt.key, tt.value)
		}
	}
	if _, ok := b["store.password"]; ok {
		t.Error("secret written to backend")
	}
}

func TestUnsetKey(t *testing.T) {
	b := mapBackend{"server.port": "4400"}

	if err := unsetKey(b, "server.port"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if _, ok := b["server.port"]; ok {
		t.Error("server.port still set")
	}
	if err := unsetKey(b, "server.api_token"); err == nil {
		t.Error("unsetKey accepted a secret")
	}
	if err := unsetKey(b, "no.such.key"); err == nil {
		t.Error("unsetKey accepted an unknown key")
	}
}

func TestShowAllMarksDefaults(t *testing.T) {
	cfg := defaults()
	cfg.Server.Port = 4999
	for _, k := range ShowAll(cfg) {
		switch k.Key {
		case "server.port":
			if k.Default || k.Value != "4999" {
				t.Errorf("server.port = %+v, want changed 4999", k)
			}
		case "list.per_page":
			if !k.Default {
				t.Errorf("list.per_page = %+v, want default", k)
			}
		}
	}
}

func TestSessionToken(t *testing.T) {
	kc := newMockKeychain()

	if _, err := SessionToken(kc); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("SessionToken() = %v, want ErrNoSecret", err)
	}
	if err := SaveSessionToken(kc, "tok"); err != nil {
		t.Fatalf("SaveSessionToken: %v", err)
	}
	if tok, err := SessionToken(kc); err != nil || tok != "tok" {
		t.Fatalf("SessionToken() = %q, %v", tok, err)
	}
	if err := ClearSessionToken(kc); err != nil {
		t.Fatalf("ClearSessionToken: %v", err)
	}
	// Clearing twice is fine.
	if err := ClearSessionToken(kc); err != nil {
		t.Fatalf("second ClearSessionToken: %v", err)
	}
}

func TestGetAPIToken_GeneratesOnce(t *testing.T) {
	kc := newMockKeychain()

	first, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if len(first) != 36 {
		t.Errorf("token = %q, want a UUID", first)
	}
	second, err := GetAPIToken(kc)
	if err != nil {
		t.Fatalf("GetAPIToken: %v", err)
	}
	if first != second {
		t.Errorf("token changed: %q then %q", first, second)
	}

	failing := newMockKeychain()
	failing.err = errors.New("locked")
	if _, err := GetAPIToken(failing); err == nil {
		t.Error("expected error when the token cannot be stored")
	}
}

//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttcrm", "config.json")

	b := newFileBackend(path)
	if err := b.SetString("store_url", "https://crm.example.com"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server_port", 4400); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file mode = %o, want 600", perm)
	}

	reloaded := newFileBackend(path)
	url, ok, err := reloaded.GetString("store_url")
	if err != nil || !ok || url != "https://crm.example.com" {
		t.Errorf("GetString = %q, %v, %v", url, ok, err)
	}
	port, ok, err := reloaded.GetInt("server_port")
	if err != nil || !ok || port != 4400 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}

	if err := reloaded.Delete("server_port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileBackend(path).GetInt("server_port"); ok {
		t.Error("server_port still present after Delete")
	}
}

func TestFileBackend_GetIntRejectsNonIntegers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"a": 1.5, "b": true, "c": "12", "d": "x"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	b := newFileBackend(path)

	for _, key := range []string{"a", "b", "d"} {
		if _, ok, err := b.GetInt(key); !ok || err == nil {
			t.Errorf("GetInt(%q) = ok %v, err %v; want an error", key, ok, err)
		}
	}
	if v, _, err := b.GetInt("c"); err != nil || v != 12 {
		t.Errorf("GetInt(c) = %d, %v; want 12", v, err)
	}
	if _, ok, _ := b.GetInt("missing"); ok {
		t.Error("GetInt(missing) reported ok")
	}
}

func TestFileBackend_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	b := newFileBackend(path)
	if _, ok, _ := b.GetString("store_url"); ok {
		t.Error("corrupt file produced values")
	}
	if err := b.SetString("store_url", "https://x"); err != nil {
		t.Fatalf("SetString over corrupt file: %v", err)
	}
}

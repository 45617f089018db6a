//go:build !darwin

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// xdgDir returns $env, falling back to fallback under the home directory.
func xdgDir(env string, fallback ...string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(append([]string{home}, fallback...)...), true
}

func defaultDataDir() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		return "ttcrm-data"
	}
	return filepath.Join(dir, "ttcrm")
}

func configFilePath() string {
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "ttcrm", "config.json")
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

// fileBackend keeps settings as one flat JSON object. Numbers are decoded
// as json.Number so integers round-trip without float conversion.
type fileBackend struct {
	mu     sync.Mutex
	path   string
	values map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]any{}}
	if err := b.read(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file %s: %v\n", path, err)
	}
	return b
}

func (b *fileBackend) read() error {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	values := map[string]any{}
	if err := dec.Decode(&values); err != nil {
		return err
	}
	b.values = values
	return nil
}

// flush writes the file through a temp file so a crash never leaves it
// half written. Callers hold b.mu.
func (b *fileBackend) flush() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	raw, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func (b *fileBackend) lookup(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	return v, ok
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	if s, isString := v.(string); isString {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	var text string
	switch val := v.(type) {
	case json.Number:
		text = val.String()
	case string:
		text = val
	case int:
		return val, true, nil
	default:
		return 0, true, fmt.Errorf("%s holds %T, not an integer", key, v)
	}
	i, err := strconv.Atoi(text)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b *fileBackend) set(key string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v == nil {
		delete(b.values, key)
	} else {
		b.values[key] = v
	}
	return b.flush()
}

func (b *fileBackend) SetString(key, val string) error { return b.set(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.set(key, val) }

func (b *fileBackend) Delete(key string) error { return b.set(key, nil) }

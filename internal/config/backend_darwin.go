//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ttcrm-data"
	}
	return filepath.Join(home, "Library", "Application Support", "ttcrm")
}

// defaultsBackend keeps settings in the com.tableturnerr.ttcrm defaults
// domain, so `defaults write` edits them too.
type defaultsBackend string

func newPlatformBackend() ConfigBackend {
	return defaultsBackend("com.tableturnerr.ttcrm")
}

// errNoDefault marks a key the domain does not hold; defaults(1) exits 1.
var errNoDefault = errors.New("no such default")

func (d defaultsBackend) run(verb, key string, extra ...string) (string, error) {
	args := append([]string{verb, string(d), key}, extra...)
	out, err := exec.Command("defaults", args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err == nil {
		return text, nil
	}
	var exitErr *exec.ExitError
	if verb != "write" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return "", errNoDefault
	}
	return "", fmt.Errorf("defaults %s %s: %w (%s)", verb, key, err, text)
}

func (d defaultsBackend) GetString(key string) (string, bool, error) {
	v, err := d.run("read", key)
	if errors.Is(err, errNoDefault) {
		return "", false, nil
	}
	return v, err == nil, err
}

func (d defaultsBackend) GetInt(key string) (int, bool, error) {
	raw, ok, err := d.GetString(key)
	if !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, true, nil
}

func (d defaultsBackend) SetString(key, val string) error {
	_, err := d.run("write", key, "-string", val)
	return err
}

func (d defaultsBackend) SetInt(key string, val int) error {
	_, err := d.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (d defaultsBackend) Delete(key string) error {
	if _, err := d.run("delete", key); err != nil && !errors.Is(err, errNoDefault) {
		return err
	}
	return nil
}

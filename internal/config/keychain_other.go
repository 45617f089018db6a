//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// platformKeychain keeps secrets in a 0600 JSON file keyed by service and
// account.
type platformKeychain struct{}

type secretsFile map[string]map[string]string

var secretsMu sync.Mutex

func secretsFilePath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		dir = "."
	}
	return filepath.Join(dir, "ttcrm", "secrets.json")
}

func loadSecrets() (secretsFile, error) {
	raw, err := os.ReadFile(secretsFilePath())
	if errors.Is(err, fs.ErrNotExist) {
		return secretsFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	sf := secretsFile{}
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return sf, nil
}

// updateSecrets loads the file, lets fn change it and writes it back.
func updateSecrets(fn func(secretsFile) error) error {
	secretsMu.Lock()
	defer secretsMu.Unlock()

	sf, err := loadSecrets()
	if err != nil {
		return err
	}
	if err := fn(sf); err != nil {
		return err
	}
	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, raw, 0o600)
}

func (platformKeychain) Get(service, account string) (string, error) {
	secretsMu.Lock()
	defer secretsMu.Unlock()

	sf, err := loadSecrets()
	if err != nil {
		return "", err
	}
	if v, ok := sf[service][account]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNoSecret, service, account)
}

func (platformKeychain) Set(service, account, value string) error {
	return updateSecrets(func(sf secretsFile) error {
		if sf[service] == nil {
			sf[service] = map[string]string{}
		}
		sf[service][account] = value
		return nil
	})
}

func (platformKeychain) Delete(service, account string) error {
	return updateSecrets(func(sf secretsFile) error {
		if _, ok := sf[service][account]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrNoSecret, service, account)
		}
		delete(sf[service], account)
		return nil
	})
}

func secretHint() string {
	return " or " + secretsFilePath()
}

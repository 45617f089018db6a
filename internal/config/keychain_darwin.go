//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// platformKeychain stores secrets as generic passwords in the login
// Keychain via the security CLI.
type platformKeychain struct{}

// errItemNotFound is the exit status of security(1) for a missing item.
const errItemNotFound = 44

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return "", keychainErr(err, service, account)
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	out, err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).CombinedOutput()
	if err != nil {
		return fmt.Errorf("writing keychain item %s/%s: %w, output: %s", service, account, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (platformKeychain) Delete(service, account string) error {
	if err := exec.Command("security", "delete-generic-password", "-s", service, "-a", account).Run(); err != nil {
		return keychainErr(err, service, account)
	}
	return nil
}

func keychainErr(err error, service, account string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == errItemNotFound {
		return fmt.Errorf("%w: %s/%s", ErrNoSecret, service, account)
	}
	return fmt.Errorf("reading keychain item %s/%s: %w", service, account, err)
}

func secretHint() string {
	return " or macOS Keychain (service: ttcrm)"
}

package config

import (
	"fmt"
	"strings"
)

// KeyInfo is one row of `ttcrm config show`.
type KeyInfo struct {
	Key     string
	EnvVar  string
	Value   string
	Default bool
}

// ShowAll lists the non-secret keys of cfg in table order and flags the
// ones still at their built-in default.
func ShowAll(cfg Config) []KeyInfo {
	base := defaults()
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		if s.secret {
			continue
		}
		v := fmt.Sprint(s.extract(cfg))
		out = append(out, KeyInfo{
			Key:     s.key,
			EnvVar:  s.env,
			Value:   v,
			Default: v == fmt.Sprint(s.extract(base)),
		})
	}
	return out
}

func lookupSpec(key string) (keySpec, error) {
	var names []string
	for _, s := range specs {
		if s.key == key {
			if s.secret {
				return s, fmt.Errorf("%q is a secret; set it with %s%s", key, s.env, secretHint())
			}
			return s, nil
		}
		if !s.secret {
			names = append(names, s.key)
		}
	}
	return keySpec{}, fmt.Errorf("unknown config key %q (known keys: %s)", key, strings.Join(names, ", "))
}

// SetKey validates value and stores it in the platform backend.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if i, isInt := v.(int); isInt {
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

// UnsetKey removes key from the platform backend so the default applies.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/tanqiangyes/ref-fvm/pkg/constants"
)

// Config is an in memory representation of the machine configuration.
type Config struct {
	// MaxCallDepth bounds the depth of nested sends.
	MaxCallDepth uint32 `toml:"maxCallDepth"`
	// InitialPages is the number of memory pages each actor instance starts with.
	InitialPages uint32 `toml:"initialPages"`
	// MaxPages is the maximum number of memory pages an actor instance may grow to.
	MaxPages uint32 `toml:"maxPages"`
	// Debug enables debug syscalls and full backtraces.
	Debug bool `toml:"debug"`
}

// NewDefaultConfig returns a config object with all the fields filled out to
// their default values
func NewDefaultConfig() *Config {
	return &Config{
		MaxCallDepth: constants.DefaultMaxCallDepth,
		InitialPages: constants.DefaultInitialPages,
		MaxPages:     constants.DefaultMaxPages,
		Debug:        false,
	}
}

// Validate reports configurations the machine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.MaxCallDepth == 0 {
		return errors.New("maxCallDepth must be positive")
	}
	if cfg.InitialPages > cfg.MaxPages {
		return errors.Errorf("initialPages %d exceeds maxPages %d", cfg.InitialPages, cfg.MaxPages)
	}
	return nil
}

// WriteFile writes the config to the given filepath.
func (cfg *Config) WriteFile(file string) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if err := toml.NewEncoder(f).Encode(*cfg); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// ReadFile reads a config file from disk. Keys missing from the file keep
// their default values.
func ReadFile(file string) (*Config, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close() // nolint: errcheck

	cfg := NewDefaultConfig()
	if _, err := toml.DecodeReader(f, cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", file)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// field finds the struct field tagged with `key`.
func (cfg *Config) field(key string) (reflect.Value, error) {
	v := reflect.Indirect(reflect.ValueOf(cfg))
	for i := 0; i < v.NumField(); i++ {
		tomlTag := strings.Split(v.Type().Field(i).Tag.Get("toml"), ",")[0]
		if tomlTag == key {
			return v.Field(i), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("key: %s invalid for config", key)
}

// Set parses `val` into the field referenced by `key`, e.g. 'maxPages'.
func (cfg *Config) Set(key string, val string) (interface{}, error) {
	v, err := cfg.field(key)
	if err != nil {
		return nil, err
	}

	switch v.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, errors.Wrapf(err, "input could not be marshaled to config at: %s", key)
		}
		v.SetBool(b)
	case reflect.Uint32:
		n, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "input could not be marshaled to config at: %s", key)
		}
		v.SetUint(n)
	default:
		return nil, fmt.Errorf("unsupported config kind %s at %s", v.Kind(), key)
	}

	return v.Interface(), nil
}

// Get gets the config value referenced by `key`.
func (cfg *Config) Get(key string) (interface{}, error) {
	v, err := cfg.field(key)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

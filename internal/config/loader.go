package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from defaults, an optional YAML file, and
// environment variable overrides, in that priority order (later steps win).
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("archflow.yaml").
//	    WithEnvPrefix("ARCHFLOW").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	env        Environment // programmatic override, takes precedence over everything else
	validators []func(*Config) error
}

// NewLoader constructs a Loader with the platform's default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ARCHFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an error;
// the defaults (and any env overrides) still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix (default ARCHFLOW).
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvironment sets a programmatic Environment override. Per the
// resolution order, this wins over ARCHFLOW_ENV, the config file's
// environment property, and the development default.
func (l *Loader) WithEnvironment(env Environment) *Loader {
	l.env = env
	return l
}

// WithValidator appends a validation function run after every other step.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the Config: defaults, then YAML file, then environment
// variables, then the environment-name precedence rule, then validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Environment = l.resolveEnvironment(cfg.Environment)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// resolveEnvironment applies the precedence order: programmatic override,
// then ARCHFLOW_ENV, then the value already resolved from file/env overlay
// (configProperty), then development.
func (l *Loader) resolveEnvironment(configProperty Environment) Environment {
	if l.env != "" {
		return l.env
	}
	if v := os.Getenv("ARCHFLOW_ENV"); v != "" {
		return Environment(v)
	}
	if configProperty != "" {
		return configProperty
	}
	return EnvDevelopment
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks v's exported fields, honoring `env:"SUFFIX"` struct
// tags, and overwrites any field whose corresponding PREFIX_SUFFIX variable
// is set. Struct fields recurse with an extended prefix; slices of structs
// (Providers) are left to the YAML file since they can't be addressed by a
// flat environment variable name.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)

		envTag := sf.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(envKey)
		if !ok || raw == "" {
			continue
		}
		if err := setFieldValue(field, raw); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads a Config from path, panicking on failure. Intended for use
// in cmd/ entrypoints where there is no sensible recovery from a broken
// configuration file.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads a Config from defaults and environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FileName = "blueprint.yml"

	OutputLenient = "lenient"
	OutputStrict  = "strict"

	ValidationDefault = "default"
	ValidationStrict  = "strict"
)

// Config models blueprint.yml.
type Config struct {
	Model struct {
		Provider       string   `yaml:"provider"`
		Name           string   `yaml:"name"`
		BaseURL        string   `yaml:"base_url"`
		Temperature    *float32 `yaml:"temperature,omitempty"`
		MaxTokens      int      `yaml:"max_tokens"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	} `yaml:"model"`
	Generation struct {
		OutputMode string `yaml:"output_mode"`
	} `yaml:"generation"`
	Validation struct {
		Mode            string `yaml:"mode"`
		StackCrossCheck bool   `yaml:"stack_cross_check"`
	} `yaml:"validation"`
	Server struct {
		Addr       string `yaml:"addr"`
		BasePath   string `yaml:"base_path"`
		CORSOrigin string `yaml:"cors_origin"`
		JWTSecret  string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Events struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"events"`
}

// StrictOutput reports whether malformed model output is an error.
func (c *Config) StrictOutput() bool { return c.Generation.OutputMode == OutputStrict }

// StrictGraphs reports whether graphs are checked for dangling edges and
// duplicate ids.
func (c *Config) StrictGraphs() bool { return c.Validation.Mode == ValidationStrict }

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "openai":
	default:
		errs = append(errs, fmt.Errorf("config.model.provider must be 'openai', got %q", c.Model.Provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("config.model.name is required"))
	}
	if t := c.Model.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("config.model.temperature must be within [0,2], got %v", *t))
	}
	if c.Model.MaxTokens < 0 {
		errs = append(errs, errors.New("config.model.max_tokens must not be negative"))
	}
	if c.Model.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("config.model.timeout_seconds must not be negative"))
	}
	if m := c.Generation.OutputMode; m != OutputLenient && m != OutputStrict {
		errs = append(errs, fmt.Errorf("config.generation.output_mode must be lenient or strict, got %q", m))
	}
	if m := c.Validation.Mode; m != ValidationDefault && m != ValidationStrict {
		errs = append(errs, fmt.Errorf("config.validation.mode must be default or strict, got %q", m))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("config.server.addr is required"))
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		errs = append(errs, fmt.Errorf("config.server.base_path must start with '/', got %q", bp))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config.log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads and validates an explicit config file. Unlike
// LoadOptional a missing file is an error.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with bp config init", path)
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Overlay copies every key set in v (flags or BLUEPRINT_* env vars) onto c
// and validates the result.
func (c *Config) Overlay(v *viper.Viper) error {
	if v == nil {
		return nil
	}
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	str("model.provider", &c.Model.Provider)
	str("model.name", &c.Model.Name)
	str("model.base_url", &c.Model.BaseURL)
	if v.IsSet("model.temperature") {
		t := float32(v.GetFloat64("model.temperature"))
		c.Model.Temperature = &t
	}
	num("model.max_tokens", &c.Model.MaxTokens)
	num("model.timeout_seconds", &c.Model.TimeoutSeconds)
	str("generation.output_mode", &c.Generation.OutputMode)
	str("validation.mode", &c.Validation.Mode)
	flag("validation.stack_cross_check", &c.Validation.StackCrossCheck)
	str("server.addr", &c.Server.Addr)
	str("server.base_path", &c.Server.BasePath)
	str("server.cors_origin", &c.Server.CORSOrigin)
	str("server.jwt_secret", &c.Server.JWTSecret)
	str("log.level", &c.Log.Level)
	str("log.format", &c.Log.Format)
	flag("events.enabled", &c.Events.Enabled)
	return c.Validate()
}

// EnvPrefix namespaces environment overrides, e.g. BLUEPRINT_MODEL_NAME.
const EnvPrefix = "BLUEPRINT"

// NewViper returns a viper instance resolving keys from BLUEPRINT_* env vars.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Keys lists every overridable key.
var Keys = []string{
	"model.provider", "model.name", "model.base_url", "model.temperature",
	"model.max_tokens", "model.timeout_seconds",
	"generation.output_mode",
	"validation.mode", "validation.stack_cross_check",
	"server.addr", "server.base_path", "server.cors_origin", "server.jwt_secret",
	"log.level", "log.format",
	"events.enabled",
}

// EnvVar names the environment variable overriding key.
func EnvVar(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Settings flattens c into the values of Keys. An unset temperature
// yields an empty string.
func (c *Config) Settings() (map[string]string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	var sections map[string]map[string]any
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(Keys))
	for _, key := range Keys {
		section, field, _ := strings.Cut(key, ".")
		if val, ok := sections[section][field]; ok && val != nil {
			out[key] = fmt.Sprint(val)
		} else {
			out[key] = ""
		}
	}
	return out, nil
}

const defaultTemplate = `model:
  provider: openai
  name: gpt-4o-mini
  base_url: ""
  max_tokens: 4096
  timeout_seconds: 120

generation:
  # lenient passes model output through untouched; strict rejects output
  # that does not parse into the task's shape
  output_mode: lenient

validation:
  # strict also rejects duplicate ids and edges to unknown nodes
  mode: default
  stack_cross_check: false

server:
  addr: ":8080"
  base_path: /v1
  cors_origin: ""
  jwt_secret: ""

log:
  level: info
  format: text

events:
  enabled: true
`

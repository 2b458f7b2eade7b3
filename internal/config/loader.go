package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"tokencount/internal/domain"
)

const (
	// EnvConfigPath overrides the default config location.
	EnvConfigPath = "TC_CONFIG"
	EnvAPIKey     = "ANTHROPIC_API_KEY"
	EnvBaseURL    = "ANTHROPIC_BASE_URL"
	EnvNoColor    = "NO_COLOR"
	EnvLogLevel   = "TC_LOG_LEVEL"

	redactedKey = "********"
)

// marshalYAML, writeFile and userHomeDir are swapped in tests to force errors.
var (
	marshalYAML = yaml.Marshal
	writeFile   = os.WriteFile
	userHomeDir = os.UserHomeDir
)

// Default returns the configuration used when no file sets a value.
func Default() domain.Config {
	return domain.Config{
		Anthropic: domain.AnthropicConfig{
			BaseURL: "https://api.anthropic.com",
			Version: "2023-06-01",
		},
		Budget:    domain.BudgetConfig{ReservePct: 0.2},
		Infra:     domain.InfraConfig{LogFormat: "text", LogLevel: "warn"},
		TimeoutMs: 30000,
		// retrying is opt-in: raise maxRetries to enable it
		Retry: domain.RetryConfig{
			MaxRetries:     0,
			InitialBackoff: 500,
			MaxBackoff:     5000,
			Multiplier:     2,
		},
	}
}

// WriteDefault writes the default Config to path as YAML, creating parent
// directories. An existing file is left alone and reported as fs.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config init: %s: %w", path, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config init mkdir: %w", err)
	}
	data, err := Marshal(Default())
	if err != nil {
		return err
	}
	if err := writeFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config init write: %w", err)
	}
	return nil
}

// Load reads path over the defaults. Fields absent from the file keep their
// default values. JSON files load too since JSON is valid YAML.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse %s: %w", path, err)
	}
	c.Anthropic.BaseURL = strings.TrimRight(c.Anthropic.BaseURL, "/")
	if err := Validate(&c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &c, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/tc/config.yaml, falling back to
// ~/.config/tc/config.yaml.
func DefaultPath(getenv func(string) string) (string, error) {
	if dir := getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tc", "config.yaml"), nil
	}
	home, err := userHomeDir()
	if err != nil {
		return "", fmt.Errorf("config path: %w", err)
	}
	return filepath.Join(home, ".config", "tc", "config.yaml"), nil
}

// ResolvePath picks the config file: flag, then $TC_CONFIG, then DefaultPath.
// explicit is false only for the default location.
func ResolvePath(flagPath string, getenv func(string) string) (path string, explicit bool, err error) {
	if flagPath != "" {
		return flagPath, true, nil
	}
	if p := getenv(EnvConfigPath); p != "" {
		return p, true, nil
	}
	p, err := DefaultPath(getenv)
	return p, false, err
}

// Source describes where the effective configuration came from.
type Source struct {
	Path   string
	Loaded bool // false when the default path did not exist
}

// LoadEffective resolves, loads and applies environment overrides. A missing
// explicit file is an error; a missing default file yields the defaults.
func LoadEffective(flagPath string, getenv func(string) string) (*domain.Config, Source, error) {
	path, explicit, err := ResolvePath(flagPath, getenv)
	if err != nil {
		// no home directory; run on defaults
		c := Default()
		ApplyEnv(&c, getenv)
		return &c, Source{}, nil
	}
	cfg, err := Load(path)
	switch {
	case err == nil:
		ApplyEnv(cfg, getenv)
		return cfg, Source{Path: path, Loaded: true}, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		c := Default()
		ApplyEnv(&c, getenv)
		return &c, Source{Path: path}, nil
	default:
		return nil, Source{Path: path}, err
	}
}

// ApplyEnv overlays environment variables on cfg.
func ApplyEnv(cfg *domain.Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if v := getenv(EnvAPIKey); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := getenv(EnvBaseURL); v != "" {
		cfg.Anthropic.BaseURL = strings.TrimRight(v, "/")
	}
	if getenv(EnvNoColor) != "" {
		cfg.Output.NoColor = true
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.Infra.LogLevel = strings.ToLower(v)
	}
}

var (
	validLogFormats = []string{"text", "json"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
)

// Validate rejects values the rest of the program cannot use.
func Validate(cfg *domain.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if !contains(validLogFormats, cfg.Infra.LogFormat) {
		return fmt.Errorf("infra.logFormat %q: want one of %s", cfg.Infra.LogFormat, strings.Join(validLogFormats, ", "))
	}
	if !contains(validLogLevels, strings.ToLower(cfg.Infra.LogLevel)) {
		return fmt.Errorf("infra.logLevel %q: want one of %s", cfg.Infra.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if cfg.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must be non-negative, got %d", cfg.TimeoutMs)
	}
	if p := cfg.Budget.ReservePct; p < 0 || p > 1 {
		return fmt.Errorf("budget.reservePct must be in range [0.0, 1.0], got %v", p)
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxRetries must be non-negative, got %d", cfg.Retry.MaxRetries)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Redacted returns a copy of cfg with the API key masked.
func Redacted(cfg domain.Config) domain.Config {
	if cfg.Anthropic.APIKey != "" {
		cfg.Anthropic.APIKey = redactedKey
	}
	return cfg
}

// Marshal renders cfg as YAML.
func Marshal(cfg domain.Config) ([]byte, error) {
	data, err := marshalYAML(cfg)
	if err != nil {
		return nil, fmt.Errorf("config marshal: %w", err)
	}
	return data, nil
}

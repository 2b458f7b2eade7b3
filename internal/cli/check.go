// Package cli holds the diagnostic subcommands that do not count tokens.
package cli

import (
	"fmt"
	"io"
	"os"

	"tokencount/internal/config"
	"tokencount/internal/domain"
	"tokencount/internal/models"
	"tokencount/internal/tokenizer"
)

// loadEncoding and writeDefaultConfig are swapped in tests.
var (
	loadEncoding = func(name string) error {
		_, err := tokenizer.NewTikToken(name)
		return err
	}
	writeDefaultConfig = config.WriteDefault
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	ConfigPath string              // --config; empty means resolve from env and defaults
	Fix        bool                // write the default config when missing
	Getenv     func(string) string // nil means os.Getenv
}

// RunCheck reports config status, credential presence and local encoding
// availability. Returns 1 when the config is unusable or an encoding fails
// to load.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}
	code := 0

	// 1. Config
	cfg, src, err := config.LoadEffective(opts.ConfigPath, getenv)
	if err != nil {
		note("Config", err.Error())
		return 1
	}
	switch {
	case src.Loaded:
		note("Config", fmt.Sprintf("Loaded %s.", src.Path))
	case src.Path == "":
		note("Config", "No config location available; using defaults.")
	case opts.Fix:
		if err := writeDefaultConfig(src.Path); err != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", err)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s.", src.Path))
	default:
		note("Config", fmt.Sprintf("No config at %s; using defaults. Run with --fix to create one.", src.Path))
	}

	// 2. Credentials and encodings
	checked := map[string]bool{}
	for _, spec := range models.All() {
		switch spec.Strategy {
		case domain.StrategyRemote:
			if checked["provider:"+spec.Provider] {
				continue
			}
			checked["provider:"+spec.Provider] = true
			note("Credentials", credentialStatus(spec.Provider, cfg))
		case domain.StrategyLocal:
			if checked["encoding:"+spec.Encoding] {
				continue
			}
			checked["encoding:"+spec.Encoding] = true
			if err := loadEncoding(spec.Encoding); err != nil {
				note("Encodings", fmt.Sprintf("%s failed to load: %v", spec.Encoding, err))
				code = 1
				continue
			}
			note("Encodings", fmt.Sprintf("%s ok.", spec.Encoding))
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	return code
}

func credentialStatus(provider string, cfg *domain.Config) string {
	if provider != "anthropic" {
		return fmt.Sprintf("%s: no credential check available.", provider)
	}
	if cfg.Anthropic.APIKey == "" {
		return fmt.Sprintf("anthropic: %s is not set; remote models will report %v.", config.EnvAPIKey, domain.ErrMissingCredential)
	}
	return fmt.Sprintf("anthropic: key present, endpoint %s.", cfg.Anthropic.BaseURL)
}

package secrets

import (
	"fmt"
	"regexp"
)

// DefaultRedactionString replaces each detected secret.
const DefaultRedactionString = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// RedactionString is the replacement for detected secrets
	RedactionString string `koanf:"redaction_string"`

	// AllowPatterns are regular expressions; matching secrets are left in place.
	AllowPatterns []string `koanf:"allow_patterns"`
}

// DefaultConfig returns an enabled scrubber configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RedactionString: DefaultRedactionString,
	}
}

func (c Config) compileAllowList() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(c.AllowPatterns))
	for i, p := range c.AllowPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_patterns %d: invalid pattern: %w", i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

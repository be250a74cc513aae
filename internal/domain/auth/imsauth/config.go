package imsauth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultAdminEmailDomain = "@adobe.com"
	DefaultServiceName      = "spacecat"
)

// Config is the AUTH_HANDLER_IMS blob. Exactly one of JWKS and JWKSURI
// provides the signing keys.
type Config struct {
	Name             string          `json:"name"`
	JWKSURI          string          `json:"jwksUri,omitempty"`
	JWKS             json.RawMessage `json:"jwks,omitempty"`
	ServiceName      string          `json:"serviceName,omitempty"`
	AdminEmailDomain string          `json:"adminEmailDomain,omitempty"`
}

// ParseConfig decodes and validates the handler config. jwks may be given as
// a JSON object or as a string holding one.
func ParseConfig(raw string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(raw) == "" {
		return cfg, errors.New("ims handler config is empty")
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse ims handler config: %w", err)
	}

	if len(cfg.JWKS) > 0 && cfg.JWKS[0] == '"' {
		var inner string
		if err := json.Unmarshal(cfg.JWKS, &inner); err != nil {
			return cfg, fmt.Errorf("failed to parse ims handler jwks: %w", err)
		}
		cfg.JWKS = json.RawMessage(inner)
	}
	if bytes.Equal(bytes.TrimSpace(cfg.JWKS), []byte("null")) {
		cfg.JWKS = nil
	}

	if cfg.Name == "" {
		return cfg, errors.New("ims handler config requires a name")
	}
	if len(cfg.JWKS) == 0 && cfg.JWKSURI == "" {
		return cfg, errors.New("ims handler config requires jwks or jwksUri")
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.AdminEmailDomain == "" {
		c.AdminEmailDomain = DefaultAdminEmailDomain
	}
}

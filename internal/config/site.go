package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults used when the site document is absent or leaves a key empty.
const (
	DefaultBaseURL       = "https://go.openhands.dev"
	DefaultPrimaryDomain = "https://openhands.dev"
)

// Site is the document that tells the store how short links are addressed.
// JSON is a subset of YAML, so a config.json file decodes unchanged.
type Site struct {
	BaseURL       string `yaml:"base_url"`
	PrimaryDomain string `yaml:"primary_domain"`
}

var defaultSite = Site{
	BaseURL:       DefaultBaseURL,
	PrimaryDomain: DefaultPrimaryDomain,
}

// LoadSite reads the site document at path. A missing file yields the
// defaults; an unreadable or malformed one is an error.
func LoadSite(path string) (*Site, error) {
	const op = "config.LoadSite"

	site := defaultSite

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &site, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read site config: %w", op, err)
	}

	if err := yaml.Unmarshal(b, &site); err != nil {
		return nil, fmt.Errorf("%s: failed to decode site config: %w", op, err)
	}

	if site.BaseURL == "" {
		site.BaseURL = DefaultBaseURL
	}
	if site.PrimaryDomain == "" {
		site.PrimaryDomain = DefaultPrimaryDomain
	}
	return &site, nil
}

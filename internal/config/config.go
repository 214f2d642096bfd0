// Package config loads the presslocal profile: which remote site to talk
// to, which content types and taxonomies to sync, and where the local
// cache database lives.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ContentType describes one syncable remote content type.
type ContentType struct {
	// Name is the local identifier, e.g. "post" or "recipe".
	Name string `mapstructure:"name"`

	// RestBase is the path segment under /wp/v2/, e.g. "posts".
	RestBase string `mapstructure:"rest_base"`

	// Taxonomies lists the taxonomy names attached to this type.
	Taxonomies []string `mapstructure:"taxonomies"`
}

// Taxonomy describes one remote taxonomy and how term assignments for it
// appear in record metadata.
type Taxonomy struct {
	// Name is the taxonomy identifier, e.g. "category".
	Name string `mapstructure:"name"`

	// RestBase is the path segment under /wp/v2/, e.g. "categories".
	RestBase string `mapstructure:"rest_base"`

	// StructuredField is the per-record metadata field that carries this
	// taxonomy's assignment in structured form (custom-fields plugins
	// write these). Empty if the taxonomy only uses the native array.
	StructuredField string `mapstructure:"structured_field"`
}

// Config is the full profile injected into the sync and push engines.
type Config struct {
	// SiteURL is the remote site root, without the /wp-json suffix.
	SiteURL string `mapstructure:"site_url"`

	// Username and AppPassword authenticate against the remote REST API.
	Username    string `mapstructure:"username"`
	AppPassword string `mapstructure:"app_password"`

	// StorePath is the local cache database file. Defaults to
	// ~/.presslocal/presslocal.db.
	StorePath string `mapstructure:"store_path"`

	// LogPath is the rotated log file. Empty means stderr only.
	LogPath string `mapstructure:"log_path"`

	ContentTypes []ContentType `mapstructure:"content_types"`
	Taxonomies   []Taxonomy    `mapstructure:"taxonomies"`

	// SEOPlugin is the plugin id used for the SEO side channel,
	// e.g. "yoast". Empty disables side-channel sync.
	SEOPlugin string `mapstructure:"seo_plugin"`

	// Workers bounds concurrent media/side-data fetches. Default 4.
	Workers int `mapstructure:"workers"`
}

// Load reads the profile from the given path, or from the default search
// locations (./presslocal.yaml, ~/.presslocal/presslocal.yaml) when path
// is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("workers", 4)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("presslocal")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".presslocal"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.StorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.StorePath = filepath.Join(home, ".presslocal", "presslocal.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the profile names everything the engines need.
func (c *Config) Validate() error {
	if c.SiteURL == "" {
		return fmt.Errorf("site_url is required")
	}
	if c.Username == "" || c.AppPassword == "" {
		return fmt.Errorf("username and app_password are required")
	}
	if len(c.ContentTypes) == 0 {
		return fmt.Errorf("at least one content type is required")
	}
	for _, ct := range c.ContentTypes {
		if ct.Name == "" || ct.RestBase == "" {
			return fmt.Errorf("content type needs both name and rest_base")
		}
	}
	for _, tax := range c.Taxonomies {
		if tax.Name == "" || tax.RestBase == "" {
			return fmt.Errorf("taxonomy needs both name and rest_base")
		}
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return nil
}

// TaxonomyByName returns the taxonomy profile entry, or nil.
func (c *Config) TaxonomyByName(name string) *Taxonomy {
	for i := range c.Taxonomies {
		if c.Taxonomies[i].Name == name {
			return &c.Taxonomies[i]
		}
	}
	return nil
}

// ContentTypeByName returns the content type profile entry, or nil.
func (c *Config) ContentTypeByName(name string) *ContentType {
	for i := range c.ContentTypes {
		if c.ContentTypes[i].Name == name {
			return &c.ContentTypes[i]
		}
	}
	return nil
}

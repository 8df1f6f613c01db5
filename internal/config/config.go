// Package config loads service configuration from a YAML file and K311_*
// environment variables, with environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Validation errors.
var (
	ErrMissingDatabaseURL = errors.New("config: database_url is required")
	ErrMissingAPIKey      = errors.New("config: GEMINI_API_KEY environment variable is required")
	ErrInvalidTopK        = errors.New("config: top_k must be between 1 and 20")
	ErrInvalidTTL         = errors.New("config: sitemap_ttl must be positive")
)

// Config is the full service configuration.
type Config struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	DatabaseURL string `mapstructure:"database_url"`

	Model         string `mapstructure:"model"`
	EmbedderModel string `mapstructure:"embedder_model"`

	TopK         int           `mapstructure:"top_k"`
	SitemapURL   string        `mapstructure:"sitemap_url"`
	SitemapTTL   time.Duration `mapstructure:"sitemap_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	ContactPhone string `mapstructure:"contact_phone"`
	CalendarURL  string `mapstructure:"calendar_url"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("model", "googleai/gemini-2.5-flash")
	v.SetDefault("embedder_model", "text-embedding-004")
	v.SetDefault("top_k", 5)
	v.SetDefault("sitemap_url", "https://www.cityofkingston.ca/sitemap.xml")
	v.SetDefault("sitemap_ttl", time.Hour)
	v.SetDefault("fetch_timeout", 15*time.Second)
	v.SetDefault("contact_phone", "613-546-0000")
	v.SetDefault("calendar_url", "https://www.cityofkingston.ca/garbage-and-recycling/collection-calendar/")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// Load reads configuration from path (optional; "" means rely on defaults and
// environment only) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("K311")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks the loaded configuration before the service starts.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		return ErrMissingAPIKey
	}
	if c.TopK < 1 || c.TopK > 20 {
		return ErrInvalidTopK
	}
	if c.SitemapTTL <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultFeedURL is the public UMN event-parking Google calendar.
const DefaultFeedURL = "https://calendar.google.com/calendar/ical/umn.edu_oeebhpq2s5t1tmljl19s2q8994%40group.calendar.google.com/public/basic.ics"

// DefaultMirrors are public CORS proxies in front of DefaultFeedURL.
var DefaultMirrors = []string{
	"https://corsproxy.io/?url=" + url.QueryEscape(DefaultFeedURL),
	"https://api.allorigins.win/raw?url=" + url.QueryEscape(DefaultFeedURL),
}

// FeedConfig describes a single calendar feed.
type FeedConfig struct {
	// ID is an internal identifier used for caching and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the calendar endpoint.
	URL string `yaml:"url" json:"url"`
	// Mirrors are tried in order when URL fails, e.g. CORS or caching
	// proxies in front of the same feed.
	Mirrors []string `yaml:"mirrors,omitempty" json:"mirrors,omitempty"`
}

// URLs returns URL followed by the mirrors, skipping blanks and repeats.
func (f FeedConfig) URLs() []string {
	out := make([]string, 0, 1+len(f.Mirrors))
	seen := map[string]bool{}
	for _, u := range append([]string{f.URL}, f.Mirrors...) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA home zone. Date-only and floating times in the
	// feed are read in it, and "today" is computed in it.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron spec (5 fields, or descriptors such as
	// "@every 5m") for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// FetchTimeoutSeconds bounds one HTTP attempt.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// FetchRetries is the number of extra attempts per mirror.
	FetchRetries int `yaml:"fetch_retries" json:"fetch_retries"`

	// CacheDir holds the on-disk copy of each feed.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CacheTTLSeconds is how long /calendar.ics serves a body before
	// refreshing it.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// Feeds is the list of calendar feeds.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultFetchRetries applies when fetch_retries is absent. An explicit 0
// disables retries.
const DefaultFetchRetries = 2

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{FetchRetries: DefaultFetchRetries}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Chicago"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/5 * * * *"
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 12
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/ics-cache"
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 300
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{"*"}
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{{
			ID:      "umn",
			Name:    "UMN Event Parking",
			URL:     DefaultFeedURL,
			Mirrors: append([]string(nil), DefaultMirrors...),
		}}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = fmt.Sprintf("feed-%d", i+1)
		}
		if c.Feeds[i].Name == "" {
			c.Feeds[i].Name = c.Feeds[i].ID
		}
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	for _, f := range c.Feeds {
		if len(f.URLs()) == 0 {
			errs = append(errs, fmt.Errorf("feed %q has no url", f.ID))
		}
	}
	return errors.Join(errs...)
}

// FetchTimeout returns FetchTimeoutSeconds as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read and defaults are filled in.
//   - PARKCAL_* environment variables override the file in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			applyEnv(cfg)
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		// Preset so a missing key keeps the default and an explicit 0 wins.
		cfg = &Config{FetchRetries: DefaultFetchRetries}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Normalize()
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays PARKCAL_* environment variables.
//
// PARKCAL_PROXY_URL is inserted as the first URL of every feed, ahead of the
// feed's own URL, so a self-hosted proxy can front all feeds.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("PARKCAL")
	v.AutomaticEnv()

	_ = v.BindEnv("listen", "PARKCAL_LISTEN")
	_ = v.BindEnv("timezone", "PARKCAL_TIMEZONE", "PARKCAL_TZ")
	_ = v.BindEnv("refresh", "PARKCAL_REFRESH")
	_ = v.BindEnv("log_level", "PARKCAL_LOG_LEVEL")
	_ = v.BindEnv("log_format", "PARKCAL_LOG_FORMAT")
	_ = v.BindEnv("cache_dir", "PARKCAL_CACHE_DIR")
	_ = v.BindEnv("fetch_timeout_seconds", "PARKCAL_FETCH_TIMEOUT_SECONDS")
	_ = v.BindEnv("proxy_url", "PARKCAL_PROXY_URL")

	setString := func(key string, dst *string) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
	setString("listen", &cfg.Listen)
	setString("timezone", &cfg.Timezone)
	setString("refresh", &cfg.RefreshCron)
	setString("log_level", &cfg.LogLevel)
	setString("log_format", &cfg.LogFormat)
	setString("cache_dir", &cfg.CacheDir)

	if n := v.GetInt("fetch_timeout_seconds"); n > 0 {
		cfg.FetchTimeoutSeconds = n
	}

	if proxy := strings.TrimSpace(v.GetString("proxy_url")); proxy != "" {
		for i := range cfg.Feeds {
			f := &cfg.Feeds[i]
			f.Mirrors = append([]string{f.URL}, f.Mirrors...)
			f.URL = proxy
		}
	}
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".parkcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

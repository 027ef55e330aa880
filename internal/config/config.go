// Package config loads waitwiki's YAML configuration.
//
// Embedded defaults are written to the XDG config dir on first run. A .env
// file and WAITWIKI_* environment variables override the file.
package config

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/abelbrown/waitwiki/internal/coord"
	"github.com/abelbrown/waitwiki/internal/filter"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/selection"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Config is the persistent application configuration.
type Config struct {
	Language     string   `yaml:"language" validate:"required,len=2"`
	Categories   []string `yaml:"categories" validate:"required,min=1,dive,category"`
	Featured     []string `yaml:"featured" validate:"max=2,dive,category"`
	APINinjasKey string   `yaml:"api_ninjas_key,omitempty"`

	Cache     CacheConfig     `yaml:"cache"`
	Filter    FilterConfig    `yaml:"filter"`
	Quality   QualityConfig   `yaml:"quality"`
	Selection SelectionConfig `yaml:"selection"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Server    ServerConfig    `yaml:"server"`
}

// CacheConfig bounds the persisted cache.
type CacheConfig struct {
	MaxPersist      int           `yaml:"max_persist" validate:"gt=0"`
	PersistInterval time.Duration `yaml:"persist_interval" validate:"gte=0"`
}

// FilterConfig sizes the anti-repeat windows.
type FilterConfig struct {
	RecentTitles       int `yaml:"recent_titles" validate:"gt=0"`
	ShortQueue         int `yaml:"short_queue" validate:"gt=0"`
	RecentFingerprints int `yaml:"recent_fingerprints" validate:"gt=0"`
}

// QualityConfig holds the accept threshold.
type QualityConfig struct {
	Threshold float64 `yaml:"threshold" validate:"gte=0,lte=1"`
}

// SelectionConfig holds the lottery shares.
type SelectionConfig struct {
	PriorityShare float64 `yaml:"priority_share" validate:"gte=0,lte=1"`
	LeadShare     float64 `yaml:"lead_share" validate:"gte=0,lte=1"`
}

// FetchConfig tunes the gateway.
type FetchConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MinInterval    time.Duration `yaml:"min_interval" validate:"gte=0"`
	Forgiveness    time.Duration `yaml:"forgiveness" validate:"gt=0"`
	DetectLanguage bool          `yaml:"detect_language"`
}

// ScheduleConfig tunes the replenishment triggers.
type ScheduleConfig struct {
	BatchThreshold   int           `yaml:"batch_threshold" validate:"gt=0"`
	BatchGap         time.Duration `yaml:"batch_gap" validate:"gte=0"`
	Batch            coord.Pass    `yaml:"batch"`
	PeriodicInterval time.Duration `yaml:"periodic_interval" validate:"gt=0"`
	PeriodicGuard    time.Duration `yaml:"periodic_guard" validate:"gte=0"`
	MaxCache         int           `yaml:"max_cache" validate:"gt=0,gtfield=MinCache"`
	MinCache         int           `yaml:"min_cache" validate:"gte=0"`
	Periodic         coord.Pass    `yaml:"periodic"`
	CallDelay        time.Duration `yaml:"call_delay" validate:"gte=0"`
	WarmLimit        int           `yaml:"warm_limit" validate:"gt=0"`
	RecommendShare   float64       `yaml:"recommend_share" validate:"gte=0,lte=1"`
}

// ServerConfig configures `waitwiki serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/waitwiki/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "waitwiki", "config.yaml")
}

// DataDir returns $XDG_DATA_HOME/waitwiki, where the store and logs live.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "waitwiki")
}

// DBPath returns the sqlite store path.
func DBPath() string {
	return filepath.Join(DataDir(), "waitwiki.db")
}

// Default returns the embedded configuration.
func Default() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads path (DefaultConfigPath when empty) over the embedded
// defaults, applies environment overrides and validates the result. A
// missing file is created from the defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Non-fatal: the embedded defaults still apply.
		_ = writeDefaults(path)
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides fields from WAITWIKI_* variables.
func (c *Config) ApplyEnv() {
	if key := os.Getenv("WAITWIKI_API_NINJAS_KEY"); key != "" {
		c.APINinjasKey = key
	}
	if lang := os.Getenv("WAITWIKI_LANGUAGE"); lang != "" {
		c.Language = lang
	}
	if addr := os.Getenv("WAITWIKI_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// Save writes the config to path. Permissions are restrictive because the
// file may hold an API key.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return model.Category(fl.Field().String()).Valid()
	})
	return v
}

// ValidateCategories checks a category list the way the config does.
func ValidateCategories(names []string) error {
	return validate.Var(names, "required,min=1,dive,category")
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EnabledCategories returns the configured categories.
func (c *Config) EnabledCategories() []model.Category {
	return model.ParseCategories(c.Categories)
}

// SetCategories replaces the enabled categories.
func (c *Config) SetCategories(cats []model.Category) {
	c.Categories = c.Categories[:0]
	for _, cat := range cats {
		c.Categories = append(c.Categories, string(cat))
	}
}

// SelectionPolicy builds the lottery policy.
func (c *Config) SelectionPolicy() selection.Policy {
	return selection.Policy{
		Featured:      model.ParseCategories(c.Featured),
		PriorityShare: c.Selection.PriorityShare,
		LeadShare:     c.Selection.LeadShare,
	}
}

// GuardOptions sizes the repetition guard.
func (c *Config) GuardOptions() filter.Options {
	return filter.Options{
		RecentTitles:       c.Filter.RecentTitles,
		ShortQueue:         c.Filter.ShortQueue,
		RecentFingerprints: c.Filter.RecentFingerprints,
	}
}

// SchedulerConfig builds the replenishment tuning. The featured categories
// double as the primary and secondary top-up targets.
func (c *Config) SchedulerConfig() coord.Config {
	sc := coord.DefaultConfig()
	featured := model.ParseCategories(c.Featured)
	sc.Primary, sc.Secondary = "", ""
	if len(featured) > 0 {
		sc.Primary = featured[0]
	}
	if len(featured) > 1 {
		sc.Secondary = featured[1]
	}

	s := c.Schedule
	sc.BatchThreshold = s.BatchThreshold
	sc.BatchGap = s.BatchGap
	sc.Batch = s.Batch
	sc.PeriodicInterval = s.PeriodicInterval
	sc.PeriodicGuard = s.PeriodicGuard
	sc.MaxCache = s.MaxCache
	sc.MinCache = s.MinCache
	sc.Periodic = s.Periodic
	sc.CallDelay = s.CallDelay
	sc.WarmLimit = s.WarmLimit
	sc.RecommendShare = s.RecommendShare
	return sc
}

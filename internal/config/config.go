package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents application configuration
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Planning PlanningConfig `mapstructure:"planning"`
	Drafts   DraftsConfig   `mapstructure:"drafts"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// BackendConfig represents the hosted backend (REST + auth) configuration
type BackendConfig struct {
	URL             string `mapstructure:"url"`
	AnonKey         string `mapstructure:"anon_key"`
	Email           string `mapstructure:"email"`
	Password        string `mapstructure:"password"`
	RefreshToken    string `mapstructure:"refresh_token"`
	SessionsTable   string `mapstructure:"sessions_table"`
	Timeout         string `mapstructure:"timeout"`
	RefreshInterval string `mapstructure:"refresh_interval"`
}

// CalendarConfig represents closed-day calendar configuration
type CalendarConfig struct {
	Type         string `mapstructure:"type"` // "public-holidays", "file" or "none"
	APIURL       string `mapstructure:"api_url"`
	Zone         string `mapstructure:"zone"`
	FallbackFile string `mapstructure:"fallback_file"`
	CacheTTL     string `mapstructure:"cache_ttl"`
}

// PlanningConfig holds duplication defaults applied when the caller does not override them
type PlanningConfig struct {
	ExcludeWeekends bool `mapstructure:"exclude_weekends"`
	ExcludeHolidays bool `mapstructure:"exclude_holidays"`
	SkipExisting    bool `mapstructure:"skip_existing"`
	MaxSessions     int  `mapstructure:"max_sessions"`
}

// DraftsConfig represents the local draft cache configuration
type DraftsConfig struct {
	DBPath        string `mapstructure:"db_path"`
	TTL           string `mapstructure:"ttl"`
	PurgeInterval string `mapstructure:"purge_interval"`
}

// ServerConfig represents HTTP API configuration
type ServerConfig struct {
	Addr       string   `mapstructure:"addr"`
	EnableCORS bool     `mapstructure:"enable_cors"`
	Origins    []string `mapstructure:"origins"`
	Debug      bool     `mapstructure:"debug"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

const (
	CalendarPublicHolidays = "public-holidays"
	CalendarFile           = "file"
	CalendarNone           = "none"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.session-planner")
		v.AddConfigPath("/etc/session-planner")
	}

	setDefaults(v)

	// Read environment variables, e.g. SESSION_PLANNER_BACKEND_ANON_KEY
	v.SetEnvPrefix("session_planner")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.sessions_table", "sessions")
	v.SetDefault("calendar.type", CalendarPublicHolidays)
	v.SetDefault("calendar.api_url", "https://calendrier.api.gouv.fr/jours-feries")
	v.SetDefault("calendar.zone", "metropole")
	v.SetDefault("planning.exclude_holidays", true)
	v.SetDefault("drafts.db_path", "drafts.db")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate Backend config
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if c.Backend.AnonKey == "" {
		return fmt.Errorf("backend.anon_key is required")
	}
	if c.Backend.RefreshToken == "" && (c.Backend.Email == "" || c.Backend.Password == "") {
		return fmt.Errorf("backend.refresh_token or backend.email and backend.password are required")
	}

	// Validate Calendar config
	calType := c.Calendar.Type
	if calType == "" {
		calType = CalendarPublicHolidays
	}

	switch calType {
	case CalendarPublicHolidays:
		if c.Calendar.APIURL == "" {
			return fmt.Errorf("calendar.api_url is required for %s type", CalendarPublicHolidays)
		}
		if c.Calendar.Zone == "" {
			return fmt.Errorf("calendar.zone is required for %s type", CalendarPublicHolidays)
		}
	case CalendarFile:
		if c.Calendar.FallbackFile == "" {
			return fmt.Errorf("calendar.fallback_file is required for %s type", CalendarFile)
		}
	case CalendarNone:
	default:
		return fmt.Errorf("calendar.type must be '%s', '%s' or '%s', got '%s'",
			CalendarPublicHolidays, CalendarFile, CalendarNone, calType)
	}

	// Validate Planning config
	if c.Planning.MaxSessions < 0 {
		return fmt.Errorf("planning.max_sessions must not be negative")
	}

	// Validate Drafts config
	if c.Drafts.DBPath == "" {
		return fmt.Errorf("drafts.db_path is required")
	}

	return nil
}

// GetTimeout returns backend HTTP timeout
func (c *BackendConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

// GetRefreshInterval returns access token refresh interval
func (c *BackendConfig) GetRefreshInterval() time.Duration {
	return parseDurationOr(c.RefreshInterval, 45*time.Minute)
}

// GetCacheTTL returns cache TTL duration
func (c *CalendarConfig) GetCacheTTL() time.Duration {
	return parseDurationOr(c.CacheTTL, 24*time.Hour)
}

// GetTTL returns how long an unsaved draft stays readable
func (c *DraftsConfig) GetTTL() time.Duration {
	return parseDurationOr(c.TTL, 24*time.Hour)
}

// GetPurgeInterval returns how often expired drafts are purged in serve mode
func (c *DraftsConfig) GetPurgeInterval() time.Duration {
	return parseDurationOr(c.PurgeInterval, time.Hour)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil || duration <= 0 {
		return fallback
	}
	return duration
}

// ExpandEnvVars expands environment variables in config strings
func (c *Config) ExpandEnvVars() {
	c.Backend.URL = os.ExpandEnv(c.Backend.URL)
	c.Backend.AnonKey = os.ExpandEnv(c.Backend.AnonKey)
	c.Backend.Email = os.ExpandEnv(c.Backend.Email)
	c.Backend.Password = os.ExpandEnv(c.Backend.Password)
	c.Backend.RefreshToken = os.ExpandEnv(c.Backend.RefreshToken)
}

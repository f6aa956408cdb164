package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "BEACON"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "beacon.db"
	defaultLogLevel           = "info"
	defaultStaffCookieName    = "staff_session"
	defaultStaffIssuer        = "beacon-auth"
	defaultVisitorCookieName  = "beacon_vid"
	defaultSessionCookieName  = "beacon_sid"
	defaultVisitorTTLDays     = 30
	defaultSessionIdleMinutes = 30
	defaultWindowDays         = 30
	defaultDispatchBuffer     = 256
)

// AppConfig captures runtime configuration for the attribution API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	StaffSigningKey    string
	StaffIssuer        string
	StaffCookieName    string
	VisitorCookieName  string
	SessionCookieName  string
	VisitorTTL         time.Duration
	SessionIdleTimeout time.Duration
	AttributionWindow  time.Duration
	DispatchBuffer     int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("staff.issuer", defaultStaffIssuer)
	configViper.SetDefault("staff.cookie_name", defaultStaffCookieName)
	configViper.SetDefault("identity.visitor_cookie_name", defaultVisitorCookieName)
	configViper.SetDefault("identity.session_cookie_name", defaultSessionCookieName)
	configViper.SetDefault("identity.visitor_ttl_days", defaultVisitorTTLDays)
	configViper.SetDefault("identity.session_idle_minutes", defaultSessionIdleMinutes)
	configViper.SetDefault("attribution.window_days", defaultWindowDays)
	configViper.SetDefault("tracking.dispatch_buffer", defaultDispatchBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		StaffSigningKey:    configViper.GetString("staff.signing_secret"),
		StaffIssuer:        configViper.GetString("staff.issuer"),
		StaffCookieName:    configViper.GetString("staff.cookie_name"),
		VisitorCookieName:  configViper.GetString("identity.visitor_cookie_name"),
		SessionCookieName:  configViper.GetString("identity.session_cookie_name"),
		VisitorTTL:         time.Duration(configViper.GetInt("identity.visitor_ttl_days")) * 24 * time.Hour,
		SessionIdleTimeout: time.Duration(configViper.GetInt("identity.session_idle_minutes")) * time.Minute,
		AttributionWindow:  time.Duration(configViper.GetInt("attribution.window_days")) * 24 * time.Hour,
		DispatchBuffer:     configViper.GetInt("tracking.dispatch_buffer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.StaffSigningKey) == "" {
		return fmt.Errorf("staff.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StaffCookieName) == "" {
		return fmt.Errorf("staff.cookie_name is required")
	}
	if strings.TrimSpace(c.VisitorCookieName) == "" {
		return fmt.Errorf("identity.visitor_cookie_name is required")
	}
	if c.VisitorTTL <= 0 {
		return fmt.Errorf("identity.visitor_ttl_days must be positive")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("identity.session_idle_minutes must be positive")
	}
	if c.AttributionWindow <= 0 {
		return fmt.Errorf("attribution.window_days must be positive")
	}
	if c.DispatchBuffer <= 0 {
		return fmt.Errorf("tracking.dispatch_buffer must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAPIURL     = "http://localhost:8000"
	defaultAPITimeout = 15 * time.Second
	defaultDBPath     = "data/topografia.db"

	// placeholderMarker appears in the sample .env shipped with the project.
	placeholderMarker = "your-project"
)

// Config holds environment-driven settings for the client toolkit.
type Config struct {
	APIURL          string
	APITimeout      time.Duration
	SupabaseURL     string
	SupabaseAnonKey string
	DevMode         bool
	DBPath          string
	DatabaseURL     string
	OpenAIAPIKey    string
	FTPAddr         string
	FTPUser         string
	FTPPassword     string
	FTPDir          string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		APIURL:     defaultAPIURL,
		APITimeout: defaultAPITimeout,
		DBPath:     defaultDBPath,
	}

	if v := strings.TrimSpace(os.Getenv("TOPOGRAFIA_API_URL")); v != "" {
		cfg.APIURL = v
	}

	if v := strings.TrimSpace(os.Getenv("TOPOGRAFIA_API_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TOPOGRAFIA_API_TIMEOUT: %w", err)
		}
		cfg.APITimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("TOPOGRAFIA_DB")); v != "" {
		cfg.DBPath = v
	}

	cfg.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	cfg.SupabaseAnonKey = strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("TOPOGRAFIA_DATABASE_URL"))
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.FTPAddr = strings.TrimSpace(os.Getenv("TOPOGRAFIA_FTP_ADDR"))
	cfg.FTPUser = strings.TrimSpace(os.Getenv("TOPOGRAFIA_FTP_USER"))
	cfg.FTPPassword = os.Getenv("TOPOGRAFIA_FTP_PASSWORD")
	cfg.FTPDir = strings.TrimSpace(os.Getenv("TOPOGRAFIA_FTP_DIR"))

	devMode := strings.TrimSpace(os.Getenv("TOPOGRAFIA_DEV_MODE"))
	cfg.DevMode = devMode == "1" || strings.EqualFold(devMode, "true")

	return cfg, cfg.Validate()
}

// Validate checks the settings that every command depends on.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("TOPOGRAFIA_API_URL is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid TOPOGRAFIA_API_URL: %q", c.APIURL)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("invalid TOPOGRAFIA_API_TIMEOUT: %s", c.APITimeout)
	}
	return nil
}

// AuthConfigured reports whether the auth backend settings look real.
// Empty values and the sample placeholder URL both count as unconfigured.
func (c Config) AuthConfigured() bool {
	if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
		return false
	}
	return !strings.Contains(c.SupabaseURL, placeholderMarker)
}

// FTPConfigured reports whether an FTP drop has been set up for exports.
func (c Config) FTPConfigured() bool {
	return c.FTPAddr != ""
}

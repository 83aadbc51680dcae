package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AuthModeGateway = "gateway"
	AuthModeJWT     = "jwt"
)

type Config struct {
	// Server
	Port           string
	Env            string
	AllowedOrigins []string

	DatabaseURL string

	// Auth
	AuthMode     string
	GatewayToken string
	JWTSecret    string
	CronSecret   string

	// Parties
	PartyTTL       time.Duration
	PartyRetention time.Duration
	SweepInterval  time.Duration

	// Profile service mirror
	ProfileSyncURL      string
	ProfileSyncToken    string
	ProfileSyncInterval time.Duration

	// Cloudflare R2 archive of purged parties
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2Bucket          string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates the config from process environment only.
func FromEnv() (*Config, error) {
	c := &Config{
		Port:         envOr("PORT", "5200"),
		Env:          envOr("APP_ENV", "development"),
		DatabaseURL:  env("DATABASE_URL"),
		AuthMode:     strings.ToLower(envOr("AUTH_MODE", AuthModeGateway)),
		GatewayToken: env("GATEWAY_TOKEN"),
		JWTSecret:    env("JWT_SECRET"),
		CronSecret:   env("CRON_SECRET"),

		ProfileSyncURL:   strings.TrimRight(env("PROFILE_SYNC_URL"), "/"),
		ProfileSyncToken: env("PROFILE_SYNC_TOKEN"),

		R2AccountID:       env("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:     env("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret: env("R2_ACCESS_KEY_SECRET"),
		R2Bucket:          env("R2_BUCKET_NAME"),
	}

	c.AllowedOrigins = splitList(envOr("ALLOWED_ORIGINS", "http://localhost:3000"))

	var err error
	if c.PartyTTL, err = durationEnv("PARTY_TTL", 4*time.Hour); err != nil {
		return nil, err
	}
	if c.PartyRetention, err = durationEnv("PARTY_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = durationEnv("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if c.ProfileSyncInterval, err = durationEnv("PROFILE_SYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if c.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is empty")
	}
	switch c.AuthMode {
	case AuthModeGateway:
		if c.GatewayToken == "" {
			return nil, fmt.Errorf("GATEWAY_TOKEN is required when AUTH_MODE=gateway")
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	default:
		return nil, fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeGateway, AuthModeJWT, c.AuthMode)
	}
	if c.PartyTTL <= 0 {
		return nil, fmt.Errorf("PARTY_TTL must be positive")
	}

	return c, nil
}

// ArchiveEnabled is true when purged parties should be copied to R2 first.
func (c *Config) ArchiveEnabled() bool {
	return c.R2Bucket != ""
}

// ProfileSyncEnabled is true when the user directory mirror should be kept fresh.
func (c *Config) ProfileSyncEnabled() bool {
	return c.ProfileSyncURL != ""
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envOr(key, def string) string {
	if v := env(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Scheduler  SchedulerConfig
	Hosting    HostingConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
}

// ServerConfig covers the read-only ops/inspection HTTP surface.
type ServerConfig struct {
	Host        string
	Port        int
	Env         string
	APIToken    string   // optional static bearer token; empty disables auth
	CORSOrigins []string // empty falls back to localhost development origins
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type SchedulerConfig struct {
	PollIntervalSeconds int
	// StaleClaimFactor scales the poll interval into the window after which
	// a task still marked running is considered abandoned and reclaimable.
	StaleClaimFactor int
}

// HostingConfig points at the race hosting service. Per-organization OAuth
// clients live in the database; the values here are connection-level.
type HostingConfig struct {
	BaseURL      string
	WebsocketURL string
	TokenPath    string
	// RoomsPerMinute caps outbound room creation across all tenants.
	RoomsPerMinute int
	// ReconcileSeconds is how often open-room bindings are re-checked
	// against the remote service after the startup pass.
	ReconcileSeconds int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (s *SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// StaleClaimWindow is the age past which a running claim no longer blocks
// re-claiming (see scheduler docs for the crash-recovery rationale).
func (s *SchedulerConfig) StaleClaimWindow() time.Duration {
	factor := s.StaleClaimFactor
	if factor <= 0 {
		factor = 3
	}
	return time.Duration(factor) * s.PollInterval()
}

func (h *HostingConfig) ReconcileInterval() time.Duration {
	return time.Duration(h.ReconcileSeconds) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("SERVER_API_TOKEN", "")
	v.SetDefault("SERVER_CORS_ORIGINS", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "podium")
	v.SetDefault("DATABASE_PASSWORD", "podium_secret")
	v.SetDefault("DATABASE_NAME", "podium")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("SCHEDULER_POLL_SECONDS", 10)
	v.SetDefault("SCHEDULER_STALE_CLAIM_FACTOR", 3)
	v.SetDefault("HOSTING_BASE_URL", "https://racehost.example.com")
	v.SetDefault("HOSTING_WEBSOCKET_URL", "wss://racehost.example.com")
	v.SetDefault("HOSTING_TOKEN_PATH", "/o/token")
	v.SetDefault("HOSTING_ROOMS_PER_MINUTE", 6)
	v.SetDefault("HOSTING_RECONCILE_SECONDS", 120)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:        v.GetString("SERVER_HOST"),
			Port:        v.GetInt("SERVER_PORT"),
			Env:         v.GetString("SERVER_ENV"),
			APIToken:    v.GetString("SERVER_API_TOKEN"),
			CORSOrigins: splitList(v.GetString("SERVER_CORS_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: v.GetInt("SCHEDULER_POLL_SECONDS"),
			StaleClaimFactor:    v.GetInt("SCHEDULER_STALE_CLAIM_FACTOR"),
		},
		Hosting: HostingConfig{
			BaseURL:          v.GetString("HOSTING_BASE_URL"),
			WebsocketURL:     v.GetString("HOSTING_WEBSOCKET_URL"),
			TokenPath:        v.GetString("HOSTING_TOKEN_PATH"),
			RoomsPerMinute:   v.GetInt("HOSTING_ROOMS_PER_MINUTE"),
			ReconcileSeconds: v.GetInt("HOSTING_RECONCILE_SECONDS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

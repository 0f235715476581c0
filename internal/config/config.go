package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	ResetDelivery ResetDeliveryConfig
	CORS          CORSConfig
	Admin         AdminConfig
	Slack         SlackConfig
}

type ServerConfig struct {
	Addr    string
	GinMode string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type RedisConfig struct {
	URL string
}

// AuthConfig values are raw strings; NewAuthService parses and validates them.
type AuthConfig struct {
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     string
	JWTRefreshTTL    string
	JWTIssuer        string
	ResetTokenTTL    string
	LoginMaxAttempts string
	LockoutDuration  string
	BcryptCost       string
	CookieSecure     string
	CookieSameSite   string
	CookieDomain     string
	CookiePath       string
}

type RateLimitConfig struct {
	Enabled string
	Limit   string
	Window  string
}

type ResetDeliveryConfig struct {
	WebhookURL   string
	Method       string
	AuthHeader   string
	BodyTemplate string
	ResetURLBase string
	Timeout      string
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// SlackConfig enables security notifications when both token and channel are set.
type SlackConfig struct {
	BotToken  string
	ChannelID string
	APIURL    string
}

type AdminConfig struct {
	Email      string
	Password   string
	NationalID string
	FirstName  string
	LastName   string
}

// Load reads the process environment, after merging an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Server: ServerConfig{
			Addr:    getenv("HTTP_ADDR", ":8080"),
			GinMode: getenv("GIN_MODE", "release"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Auth: AuthConfig{
			JWTAccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
			JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
			JWTAccessTTL:     getenv("JWT_ACCESS_TTL", "24h"),
			JWTRefreshTTL:    getenv("JWT_REFRESH_TTL", "168h"),
			JWTIssuer:        getenv("JWT_ISSUER", "foliodesk"),
			ResetTokenTTL:    getenv("RESET_TOKEN_TTL", "1h"),
			LoginMaxAttempts: getenv("LOGIN_MAX_ATTEMPTS", "5"),
			LockoutDuration:  getenv("LOGIN_LOCKOUT_DURATION", "2h"),
			BcryptCost:       os.Getenv("BCRYPT_COST"),
			CookieSecure:     os.Getenv("AUTH_COOKIE_SECURE"),
			CookieSameSite:   os.Getenv("AUTH_COOKIE_SAMESITE"),
			CookieDomain:     os.Getenv("AUTH_COOKIE_DOMAIN"),
			CookiePath:       os.Getenv("AUTH_COOKIE_PATH"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenv("AUTH_RATE_LIMIT_ENABLED", "true"),
			Limit:   getenv("AUTH_RATE_LIMIT", "20"),
			Window:  getenv("AUTH_RATE_LIMIT_WINDOW", "15m"),
		},
		ResetDelivery: ResetDeliveryConfig{
			WebhookURL:   os.Getenv("RESET_WEBHOOK_URL"),
			Method:       getenv("RESET_WEBHOOK_METHOD", "POST"),
			AuthHeader:   os.Getenv("RESET_WEBHOOK_AUTHORIZATION"),
			BodyTemplate: os.Getenv("RESET_WEBHOOK_BODY"),
			ResetURLBase: getenv("RESET_URL_BASE", "http://localhost:3000/reset-password"),
			Timeout:      getenv("RESET_WEBHOOK_TIMEOUT", "10s"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			AllowCredentials: strings.EqualFold(os.Getenv("CORS_ALLOW_CREDENTIALS"), "true"),
		},
		Admin: AdminConfig{
			Email:      os.Getenv("ADMIN_EMAIL"),
			Password:   os.Getenv("ADMIN_PASSWORD"),
			NationalID: os.Getenv("ADMIN_NATIONAL_ID"),
			FirstName:  getenv("ADMIN_FIRST_NAME", "Main"),
			LastName:   getenv("ADMIN_LAST_NAME", "Admin"),
		},
		Slack: SlackConfig{
			BotToken:  os.Getenv("SLACK_BOT_TOKEN"),
			ChannelID: os.Getenv("SLACK_CHANNEL_ID"),
			APIURL:    os.Getenv("SLACK_API_URL"),
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

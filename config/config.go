package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/princinho/mocreatives/models"
)

type Config struct {
	Port         string
	MongoURI     string
	DatabaseName string

	JWTSecret          string
	AccessTokenTTL     time.Duration
	ResetTokenTTL      time.Duration
	ResetEligibleRoles models.RoleSet

	ClientURL      string
	AllowedOrigins []string

	SuperAdmin SuperAdmin
	SMTP       SMTP
	RateLimit  RateLimit
	Storage    Storage
	Upload     Upload

	ResetSweepSchedule string
	LogLevel           string
	LogFormat          string
}

// SuperAdmin is the bootstrap account created at startup when none exists.
type SuperAdmin struct {
	Name     string
	Email    string
	Password string
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Enabled is false when no SMTP host is set; mail is then only logged.
func (s SMTP) Enabled() bool { return s.Host != "" }

type RateLimit struct {
	RedisURL string
	Limit    int
	Window   time.Duration
}

func (r RateLimit) Enabled() bool { return r.RedisURL != "" && r.Limit > 0 }

type Storage struct {
	Provider        string
	GCSBucket       string
	CredentialsFile string

	R2Bucket          string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Endpoint        string
	R2PublicDomain    string
}

type Upload struct {
	MaxSizeMB         int
	AllowedExtensions []string
	AllowedMimeTypes  []string
}

const (
	ProviderNone = ""
	ProviderGCS  = "gcs"
	ProviderR2   = "r2"
)

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from getenv, applying defaults.
func FromEnv(getenv func(string) string) *Config {
	e := env(getenv)
	return &Config{
		Port:         e.str("PORT", "8080"),
		MongoURI:     e.str("MONGODB_URI", ""),
		DatabaseName: e.str("DATABASE_NAME", "mocreatives"),

		JWTSecret:          e.str("JWT_SECRET", ""),
		AccessTokenTTL:     e.minutes("ACCESS_TOKEN_TTL_MINUTES", 15),
		ResetTokenTTL:      e.minutes("RESET_TOKEN_TTL_MINUTES", 60),
		ResetEligibleRoles: e.roles("RESET_ELIGIBLE_ROLES", models.RoleSuperAdmin, models.RoleAdmin),

		ClientURL:      strings.TrimRight(e.str("CLIENT_URL", "http://localhost:3000"), "/"),
		AllowedOrigins: e.list("ALLOWED_ORIGINS", false),

		SuperAdmin: SuperAdmin{
			Name:     e.str("SUPERADMIN_NAME", "Super Admin"),
			Email:    strings.ToLower(e.str("SUPERADMIN_EMAIL", "")),
			Password: getenv("SUPERADMIN_PASSWORD"),
		},
		SMTP: SMTP{
			Host:     e.str("SMTP_HOST", ""),
			Port:     e.num("SMTP_PORT", 587),
			Username: e.str("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD"),
			From:     e.str("SMTP_FROM", "no-reply@mocreatives.com"),
			FromName: e.str("SMTP_FROM_NAME", "MoCreatives"),
		},
		RateLimit: RateLimit{
			RedisURL: e.str("REDIS_URL", ""),
			Limit:    e.num("LOGIN_RATE_LIMIT", 5),
			Window:   e.minutes("LOGIN_RATE_WINDOW_MINUTES", 15),
		},
		Storage: Storage{
			Provider:          strings.ToLower(e.str("STORAGE_PROVIDER", ProviderNone)),
			GCSBucket:         e.str("GCS_BUCKET", ""),
			CredentialsFile:   e.str("CREDENTIALS_FILE_LOCATION", ""),
			R2Bucket:          e.str("R2_BUCKET", ""),
			R2AccessKeyID:     e.str("R2_ACCESS_KEY_ID", ""),
			R2SecretAccessKey: getenv("R2_SECRET_ACCESS_KEY"),
			R2Endpoint:        e.str("R2_ENDPOINT", ""),
			R2PublicDomain:    strings.TrimRight(e.str("R2_PUBLIC_DOMAIN", ""), "/"),
		},
		Upload: Upload{
			MaxSizeMB:         e.num("MAX_UPLOAD_SIZE_MB", 5),
			AllowedExtensions: e.listOr("ALLOWED_FILE_EXTENSIONS", []string{".jpg", ".jpeg", ".png", ".webp"}),
			AllowedMimeTypes:  e.listOr("ALLOWED_FILE_MIME_TYPES", []string{"image/jpeg", "image/png", "image/webp"}),
		},

		ResetSweepSchedule: e.str("RESET_SWEEP_SCHEDULE", "@every 15m"),
		LogLevel:           e.str("LOG_LEVEL", "info"),
		LogFormat:          e.str("LOG_FORMAT", "text"),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if (c.SuperAdmin.Email == "") != (c.SuperAdmin.Password == "") {
		errs = append(errs, errors.New("SUPERADMIN_EMAIL and SUPERADMIN_PASSWORD must be set together"))
	}
	if c.SMTP.Enabled() && c.SMTP.Port <= 0 {
		errs = append(errs, fmt.Errorf("invalid SMTP_PORT %d", c.SMTP.Port))
	}
	switch c.Storage.Provider {
	case ProviderNone:
	case ProviderGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for the gcs provider"))
		}
	case ProviderR2:
		s := c.Storage
		if s.R2Bucket == "" || s.R2AccessKeyID == "" || s.R2SecretAccessKey == "" || s.R2Endpoint == "" {
			errs = append(errs, errors.New("missing R2 env vars (R2_BUCKET, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_ENDPOINT)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_PROVIDER %q", c.Storage.Provider))
	}
	return errors.Join(errs...)
}

type env func(string) string

func (e env) str(key, def string) string {
	if v := strings.TrimSpace(e(key)); v != "" {
		return v
	}
	return def
}

func (e env) num(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(e(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (e env) minutes(key string, def int) time.Duration {
	return time.Duration(e.num(key, def)) * time.Minute
}

func (e env) list(key string, lower bool) []string {
	var out []string
	for _, item := range strings.Split(e(key), ",") {
		item = strings.TrimSpace(item)
		if lower {
			item = strings.ToLower(item)
		}
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (e env) listOr(key string, def []string) []string {
	if l := e.list(key, true); len(l) > 0 {
		return l
	}
	return def
}

// roles ignores unknown names; an empty or all-invalid value yields def.
func (e env) roles(key string, def ...models.Role) models.RoleSet {
	var set models.RoleSet
	for _, name := range e.list(key, true) {
		if r, err := models.ParseRole(name); err == nil {
			set |= models.NewRoleSet(r)
		}
	}
	if set == 0 {
		return models.NewRoleSet(def...)
	}
	return set
}

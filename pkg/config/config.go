package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the PRS service.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                     // Set at load time, not from config

	// Database configuration (PostgreSQL + PostGIS)
	Database DatabaseConfig `yaml:"database"`

	// Object storage for record payloads and harvested attachments
	Storage StorageConfig `yaml:"storage"`

	// Search index push target
	Typesense TypesenseConfig `yaml:"typesense"`

	// Outbound notification email
	SMTP SMTPConfig `yaml:"smtp"`

	// Landgate SLIP parcel identification service
	SLIP SLIPConfig `yaml:"slip"`

	// Harvest business rules
	Harvest HarvestConfig `yaml:"harvest"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"prs"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"prs"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// StorageConfig holds object storage (S3-compatible) settings for uploaded files.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint" env:"STORAGE_ENDPOINT" env-default:"localhost:9000"`
	AccessKey string `yaml:"access_key" env:"STORAGE_ACCESS_KEY" env-default:""`
	SecretKey string `yaml:"-" env:"STORAGE_SECRET_KEY"` // Secret - not in YAML
	Bucket    string `yaml:"bucket" env:"STORAGE_BUCKET" env-default:"prs-records"`
	UseSSL    bool   `yaml:"use_ssl" env:"STORAGE_USE_SSL" env-default:"false"`
}

// TypesenseConfig holds settings for the full-text index push sink.
type TypesenseConfig struct {
	URL            string `yaml:"url" env:"TYPESENSE_URL" env-default:"http://localhost:8108"`
	APIKey         string `yaml:"-" env:"TYPESENSE_API_KEY"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TYPESENSE_TIMEOUT_SECONDS" env-default:"10"`
}

// SMTPConfig holds outbound email settings for task notifications.
type SMTPConfig struct {
	Host           string `yaml:"host" env:"SMTP_HOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"SMTP_PORT" env-default:"25"`
	Username       string `yaml:"username" env:"SMTP_USERNAME" env-default:""`
	Password       string `yaml:"-" env:"SMTP_PASSWORD"` // Secret - not in YAML
	FromAddress    string `yaml:"from_address" env:"SMTP_FROM_ADDRESS" env-default:"PRS-Alerts@dbca.wa.gov.au"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"SMTP_TIMEOUT_SECONDS" env-default:"15"`
}

// SLIPConfig holds settings for the Landgate SLIP cadastre query service.
type SLIPConfig struct {
	URL            string `yaml:"url" env:"SLIP_URL" env-default:""`
	Username       string `yaml:"username" env:"SLIP_USERNAME" env-default:""`
	Password       string `yaml:"-" env:"SLIP_PASSWORD"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"SLIP_TIMEOUT_SECONDS" env-default:"20"`
}

// HarvestConfig holds the business-rule constants used during referral
// resolution. These were ambient settings in the legacy system; they are
// injected explicitly so tests can substitute fixtures.
type HarvestConfig struct {
	// AssigneeFallback is the username assigned new referrals when no
	// per-region default assignee applies.
	AssigneeFallback string `yaml:"assignee_fallback" env:"REFERRAL_ASSIGNEE_FALLBACK" env-default:"admin"`

	// RegionFallback is the catch-all region used when address geometry
	// intersects zero or more than one region.
	RegionFallback string `yaml:"region_fallback" env:"REFERRAL_REGION_FALLBACK" env-default:"Swan"`

	// AgencySlug / ReferringOrgSlug identify the fixed internal agency and
	// the fixed external referring authority for harvested referrals.
	AgencySlug       string `yaml:"agency_slug" env:"REFERRAL_AGENCY_SLUG" env-default:"dbca"`
	ReferringOrgSlug string `yaml:"referring_org_slug" env:"REFERRAL_REFERRING_ORG_SLUG" env-default:"wapc"`

	// PowerUserGroup is the group emailed harvest reports and
	// condition-created notifications.
	PowerUserGroup string `yaml:"power_user_group" env:"PRS_POWER_USER_GROUP" env-default:"PRS power user"`

	// OverdueSubjectPrefixes are email subject prefixes (lowercased) that
	// identify overdue-reminder notices, which are never harvested.
	OverdueSubjectPrefixes []string `yaml:"overdue_subject_prefixes" env:"OVERDUE_SUBJECT_PREFIXES" env-default:"wapc eoverdue referral,re: wapc eoverdue referral"`

	// SiteURL prefixes object URLs in notification emails.
	SiteURL string `yaml:"site_url" env:"SITE_URL" env-default:"http://localhost:8080"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// A missing config file is fine; environment variables and
		// defaults cover every field.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

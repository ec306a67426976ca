package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gestloc/internal/admintoken"
)

// ConfigPath is the default config file location relative to the working directory.
const ConfigPath = "config.yaml"

// Storage backends.
const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// Mail delivery modes.
const (
	MailModeLog   = "log"
	MailModeSMTP  = "smtp"
	MailModeQueue = "queue"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseURL"`
	LogLevel      string `yaml:"logLevel"`
	AgencyName    string `yaml:"agencyName"`
	AdminEmail    string `yaml:"adminEmail"`
	PublicBaseURL string `yaml:"publicBaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	StorageBackend string `yaml:"storageBackend"`
	UploadsRoot    string `yaml:"uploadsRoot"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	MaxUploadBytes    int64 `yaml:"maxUploadBytes"`
	MaxRequestBytes   int64 `yaml:"maxRequestBytes"`
	PDFStructureCheck bool  `yaml:"pdfStructureCheck"`

	SessionCookieName   string `yaml:"sessionCookieName"`
	SessionCookieSecure bool   `yaml:"sessionCookieSecure"`
	FormTokenTTL        string `yaml:"formTokenTTL"`
	LeaseTTL            string `yaml:"leaseTTL"`

	SubmitRateLimitPerMinute  int      `yaml:"submitRateLimitPerMinute"`
	RespondRateLimitPerMinute int      `yaml:"respondRateLimitPerMinute"`
	TrustedProxyCIDRs         []string `yaml:"trustedProxyCidrs"`
	AllowedOrigins            []string `yaml:"allowedOrigins"`

	AdminJWTPublicKeyPath   string `yaml:"adminJwtPublicKeyPath"`
	AdminJWTVerifyPublicKey string `yaml:"adminJwtVerifyPublicKeys"`
	AdminJWTKeyID           string `yaml:"adminJwtKeyId"`
	AdminJWTIssuer          string `yaml:"adminJwtIssuer"`
	AdminJWTLeeway          string `yaml:"adminJwtLeeway"`

	MailMode     string `yaml:"mailMode"`
	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     int    `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`
	SMTPTLS      string `yaml:"smtpTLS"`
	MailQueue    string `yaml:"mailQueueStream"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CANDIDATURE_ADMIN_EMAIL"); v != "" {
		cfg.AdminEmail = strings.TrimSpace(v)
	}
	if v := os.Getenv("CANDIDATURE_PUBLIC_BASE_URL"); v != "" {
		cfg.PublicBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CANDIDATURE_STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CANDIDATURE_UPLOADS_ROOT"); v != "" {
		cfg.UploadsRoot = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("CANDIDATURE_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("CANDIDATURE_PDF_STRUCTURE_CHECK"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.PDFStructureCheck = b
		}
	}
	if v := os.Getenv("CANDIDATURE_SESSION_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.SessionCookieSecure = b
		}
	}
	if v := os.Getenv("CANDIDATURE_LEASE_TTL"); v != "" {
		cfg.LeaseTTL = strings.TrimSpace(v)
	}
	if v := os.Getenv("CANDIDATURE_SUBMIT_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubmitRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CANDIDATURE_RESPOND_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RespondRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CANDIDATURE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CANDIDATURE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("ADMIN_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.AdminJWTPublicKeyPath = v
	}
	if v := os.Getenv("ADMIN_JWT_VERIFY_PUBLIC_KEYS"); v != "" {
		cfg.AdminJWTVerifyPublicKey = v
	}
	if v := os.Getenv("ADMIN_JWT_ISSUER"); v != "" {
		cfg.AdminJWTIssuer = v
	}
	if v := os.Getenv("CANDIDATURE_MAIL_MODE"); v != "" {
		cfg.MailMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageLocal
	}
	if cfg.StorageBackend == StorageLocal && cfg.UploadsRoot == "" {
		cfg.UploadsRoot = "uploads"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.MaxRequestBytes == 0 {
		cfg.MaxRequestBytes = 32 << 20
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "gestloc_session"
	}
	if cfg.MailMode == "" {
		cfg.MailMode = MailModeLog
	}
	if cfg.AgencyName == "" {
		cfg.AgencyName = "Gestion locative"
	}
	if strings.TrimSpace(cfg.AdminJWTIssuer) == "" {
		cfg.AdminJWTIssuer = admintoken.DefaultIssuer
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for form tokens and rate limiting")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return errors.New("config: publicBaseURL is required to build response and lease links")
	}
	switch cfg.StorageBackend {
	case StorageLocal:
		if strings.TrimSpace(cfg.UploadsRoot) == "" {
			return errors.New("config: uploadsRoot is required for local storage")
		}
	case StorageMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for minio storage")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q (use local or minio)", cfg.StorageBackend)
	}
	if cfg.MaxUploadBytes < 0 || cfg.MaxRequestBytes < cfg.MaxUploadBytes {
		return errors.New("config: maxRequestBytes must be >= maxUploadBytes >= 0")
	}
	if cfg.SubmitRateLimitPerMinute < 0 || cfg.RespondRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if strings.TrimSpace(cfg.AdminJWTPublicKeyPath) == "" && strings.TrimSpace(cfg.AdminJWTVerifyPublicKey) == "" {
		return errors.New("config: adminJwtPublicKeyPath or adminJwtVerifyPublicKeys is required")
	}
	if _, err := ParseDuration("formTokenTTL", cfg.FormTokenTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("leaseTTL", cfg.LeaseTTL); err != nil {
		return err
	}
	if _, err := ParseDuration("adminJwtLeeway", cfg.AdminJWTLeeway); err != nil {
		return err
	}
	switch cfg.MailMode {
	case MailModeLog:
	case MailModeSMTP:
		if cfg.SMTPHost == "" || cfg.SMTPFrom == "" {
			return errors.New("config: smtpHost and smtpFrom are required when mailMode is smtp")
		}
	case MailModeQueue:
	default:
		return fmt.Errorf("config: unknown mailMode %q (use log, smtp or queue)", cfg.MailMode)
	}
	return nil
}

// ParseDuration parses an optional duration string; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("config: %s must be >= 0", name)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/carelock/carelock/internal/models"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Ledger   LedgerConfig
	Upload   UploadConfig
	Alert    AlertConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string // CIDRs allowed to set forwarding headers
	AllowedOrigins []string
}

type SecurityConfig struct {
	DataKey         []byte // 32-byte AEAD key for record encryption
	CredentialKey   []byte // 32-byte AEAD key sealing TOTP secrets
	AlgorithmID     int    // AEAD for new envelopes
	TOTPIssuer      string
	TOTPMaxAttempts int
	TOTPWindow      time.Duration
	TOTPLockout     time.Duration
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

type LedgerConfig struct {
	URL               string
	Secret            string // HS256 secret for timestamp token verification
	Timeout           time.Duration
	MaxRetries        int
	DegradeToStandard bool // explicit policy when the ledger is unreachable
}

type UploadConfig struct {
	MaxBytes     int64
	AllowedTypes []string
	ScannerURL   string
	ScanTimeout  time.Duration
	MaxRetries   int
	BlobDir      string
}

type AlertConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	ToAddress   string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	dataKey, err := getEnvAsKey("DATA_KEY")
	if err != nil {
		return nil, err
	}
	credentialKey, err := getEnvAsKey("CREDENTIAL_KEY")
	if err != nil {
		return nil, err
	}

	ledgerSecret := getEnv("LEDGER_SECRET", "")
	if ledgerSecret == "" {
		return nil, fmt.Errorf("LEDGER_SECRET is required")
	}
	if err := validateSecret("LEDGER_SECRET", ledgerSecret, env); err != nil {
		return nil, err
	}

	var algorithmID int
	switch alg := getEnv("ENCRYPTION_ALGORITHM", "aes-gcm"); alg {
	case "aes-gcm":
		algorithmID = models.AlgorithmAESGCM
	case "chacha20-poly1305":
		algorithmID = models.AlgorithmChaCha20
	default:
		return nil, fmt.Errorf("ENCRYPTION_ALGORITHM must be aes-gcm or chacha20-poly1305, got %q", alg)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "carelock"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Security: SecurityConfig{
			DataKey:         dataKey,
			CredentialKey:   credentialKey,
			AlgorithmID:     algorithmID,
			TOTPIssuer:      getEnv("TOTP_ISSUER", "Carelock"),
			TOTPMaxAttempts: getEnvAsInt("TOTP_MAX_ATTEMPTS", 5),
			TOTPWindow:      getEnvAsDuration("TOTP_ATTEMPT_WINDOW", 15*time.Minute),
			TOTPLockout:     getEnvAsDuration("TOTP_LOCKOUT_DURATION", 15*time.Minute),
			SessionTTL:      getEnvAsDuration("SESSION_TTL", 8*time.Hour),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Ledger: LedgerConfig{
			URL:               getEnv("LEDGER_URL", ""),
			Secret:            ledgerSecret,
			Timeout:           getEnvAsDuration("LEDGER_TIMEOUT", 5*time.Second),
			MaxRetries:        getEnvAsInt("LEDGER_MAX_RETRIES", 3),
			DegradeToStandard: getEnvAsBool("LEDGER_DEGRADE_TO_STANDARD", false),
		},
		Upload: UploadConfig{
			MaxBytes:     int64(getEnvAsInt("UPLOAD_MAX_BYTES", 25<<20)),
			AllowedTypes: parseAllowedTypes(),
			ScannerURL:   getEnv("SCANNER_URL", ""),
			ScanTimeout:  getEnvAsDuration("SCAN_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvAsInt("SCAN_MAX_RETRIES", 2),
			BlobDir:      getEnv("BLOB_DIR", "/var/lib/carelock/blobs"),
		},
		Alert: AlertConfig{
			Enabled:     getEnvAsBool("ALERT_ENABLED", false),
			AWSRegion:   getEnv("ALERT_AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			ToAddress:   getEnv("ALERT_TO_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.Alert.Enabled && (cfg.Alert.FromAddress == "" || cfg.Alert.ToAddress == "") {
		return nil, fmt.Errorf("ALERT_FROM_ADDRESS and ALERT_TO_ADDRESS are required when alerts are enabled")
	}

	return cfg, nil
}

// validateSecret enforces minimum strength for shared secrets
func validateSecret(name, secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvAsKey decodes a required hex-encoded 32-byte key
func getEnvAsKey(key string) ([]byte, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, fmt.Errorf("%s is required", key)
	}

	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", key, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("%s must decode to exactly 32 bytes, got %d", key, len(decoded))
	}

	return decoded, nil
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedTypes() []string {
	raw := getEnv("UPLOAD_ALLOWED_TYPES", "application/pdf,image/png,image/jpeg,text/plain")
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

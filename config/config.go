package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"rdmsync/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// DropboxConfig holds the Dropbox Business app credentials. AppSecret is
// also the HMAC key for webhook signature verification.
type DropboxConfig struct {
	AppKey    string `json:"app_key" validate:"required"`
	AppSecret string `json:"-" validate:"required"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-" validate:"required"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	// EncryptionKey protects stored Dropbox tokens and signs admin API JWTs.
	// Must be 16, 24 or 32 bytes for AES.
	EncryptionKey string `json:"-" validate:"required"`

	Dropbox DropboxConfig `json:"dropbox"`

	// AdminGroupName is the fixed name of the dedicated remote group that
	// mirrors the team's admins. All teams use the same name.
	AdminGroupName string `json:"admin_group_name" validate:"required"`

	// GroupNamePrefix prefixes the deterministic per-project group names.
	GroupNamePrefix string `json:"group_name_prefix"`

	// TimestampAuthorityKey signs locally minted timestamp tokens.
	TimestampAuthorityKey string `json:"-" validate:"required"`

	// LockDir hosts the run/plan lock directories and the pending-team
	// queue file shared by all worker processes.
	LockDir string `json:"lock_dir"`

	// SyncIntervalMinutes is the fallback poll interval for the team sync
	// worker when no webhook has fired.
	SyncIntervalMinutes int `json:"sync_interval_minutes"`

	// InstitutionSyncCron schedules the institution-wide metadata sync.
	InstitutionSyncCron string `json:"institution_sync_cron"`

	RateLimitWebhook int `json:"rate_limit_webhook"`

	SentryDSN string `json:"-"`

	Redis RedisConfig `json:"redis"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "rdmsync"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		Dropbox: DropboxConfig{
			AppKey:    getEnv("DROPBOX_APP_KEY", ""),
			AppSecret: getEnv("DROPBOX_APP_SECRET", ""),
		},

		AdminGroupName:        getEnv("ADMIN_GROUP_NAME", "rdm-admin"),
		GroupNamePrefix:       getEnv("GROUP_NAME_PREFIX", "rdm-project-"),
		TimestampAuthorityKey: getEnv("TIMESTAMP_AUTHORITY_KEY", ""),

		LockDir:             getEnv("LOCK_DIR", os.TempDir()),
		SyncIntervalMinutes: getEnvAsInt("SYNC_INTERVAL_MINUTES", 60),
		InstitutionSyncCron: getEnv("INSTITUTION_SYNC_CRON", "0 3 * * *"),
		RateLimitWebhook:    getEnvAsInt("RATE_LIMIT_WEBHOOK", 60),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if err := validator.New().Struct(&AppConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch len(AppConfig.EncryptionKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("ENCRYPTION_KEY must be 16, 24 or 32 bytes, got %d", len(AppConfig.EncryptionKey))
	}

	logConfig()
	return nil
}

// DropboxOAuth returns the OAuth2 config used to refresh team access tokens.
func DropboxOAuth() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     AppConfig.Dropbox.AppKey,
		ClientSecret: AppConfig.Dropbox.AppSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://www.dropbox.com/oauth2/authorize",
			TokenURL: "https://api.dropboxapi.com/oauth2/token",
		},
	}
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := models.MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}
	startIdx += len(passwordMarker)
	endIdx := strings.Index(dsn[startIdx:], " ")
	if endIdx == -1 {
		endIdx = len(dsn)
	} else {
		endIdx += startIdx
	}
	return dsn[:startIdx] + "****" + dsn[endIdx:]
}

func logConfig() {
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Admin group name: %s", AppConfig.AdminGroupName)
	log.Printf("Lock directory: %s", AppConfig.LockDir)
	if AppConfig.Redis.Enabled {
		log.Printf("Redis rate-limit storage: %s (db %d)", AppConfig.Redis.Address, AppConfig.Redis.DB)
	}
}

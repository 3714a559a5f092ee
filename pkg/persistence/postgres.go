package persistence

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/product-labo/Meta-sub005/internal/config"
)

const defaultSSLMode = "disable"

var validSSLModes = []string{
	"disable",
	"require",
	"verify-ca",
	"verify-full",
}

// activeJobIndex enforces at most one queued or running job per wallet
const activeJobIndex = `CREATE UNIQUE INDEX IF NOT EXISTS uniq_indexing_jobs_active_wallet
	ON indexing_jobs (wallet_id) WHERE status IN ('queued', 'running')`

// ConnectionString builds a PostgreSQL DSN from the database settings
func ConnectionString(cfg config.DatabaseConfig) (string, error) {
	sslMode := defaultSSLMode
	if cfg.SSLMode != "" {
		if !slices.Contains(validSSLModes, cfg.SSLMode) {
			return "", fmt.Errorf("invalid ssl mode: %s. Must be one of: %s", cfg.SSLMode, strings.Join(validSSLModes, ", "))
		}
		sslMode = cfg.SSLMode
	}

	parts := []string{fmt.Sprintf("host=%s", cfg.Host)}
	if cfg.User != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", cfg.Password))
	}
	parts = append(parts,
		fmt.Sprintf("dbname=%s", cfg.DbName),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("sslmode=%s", sslMode),
		"TimeZone=UTC",
	)
	return strings.Join(parts, " "), nil
}

// Open connects to PostgreSQL
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	dsn, err := ConnectionString(cfg)
	if err != nil {
		return nil, err
	}
	return OpenDSN(dsn, logger)
}

// OpenDSN connects to PostgreSQL with a raw DSN
func OpenDSN(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Info("connected to database", zap.String("component", "persistence"))
	return db, nil
}

// Migrate creates the tables and indexes
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Wallet{}, &Transaction{}, &IndexingJob{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	if err := db.Exec(activeJobIndex).Error; err != nil {
		return fmt.Errorf("failed to create active job index: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package initializers

import (
	"fmt"

	"github.com/Itish41/IAOMS/config"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectDB opens the Supabase Postgres connection described by cfg.
func ConnectDB(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	log.Info("Connecting to database")

	if cfg.DirectURL == "" {
		return nil, fmt.Errorf("env variable DIRECT_URL is empty")
	}

	// Supabase's pooler does not support server-side prepared statements.
	pgConfig := postgres.Config{
		PreferSimpleProtocol: true,
		DSN:                  cfg.DirectURL,
	}

	gormConfig := &gorm.Config{
		PrepareStmt:          false,
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Warn),
	}
	if cfg.Debug {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.New(pgConfig), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info("Database connection successful")
	return db, nil
}

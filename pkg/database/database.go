package database

import (
	"fmt"
	"time"

	"esl-sync-service/internal/model"
	"esl-sync-service/pkg/config"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB initializes the database connection with configuration
func InitDB(dbConfig *config.DBConfig, log *zap.Logger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger:  logger.Default.LogMode(dbConfig.LogLevel),
		NowFunc: nowUTC,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch dbConfig.Driver {
	case "sqlite":
		db, err = OpenSQLite(dbConfig.SQLitePath, gormConfig)
	default:
		pgConfig := postgres.Config{
			DSN:                  dbConfig.GetDSN(),
			PreferSimpleProtocol: true, // Disables implicit prepared statement usage
		}
		db, err = gorm.Open(postgres.New(pgConfig), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	if dbConfig.Driver == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConns)
		sqlDB.SetMaxOpenConns(dbConfig.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)
	}

	log.Info("Database connected successfully",
		zap.String("driver", dbConfig.Driver),
		zap.String("host", dbConfig.Host),
		zap.String("database", dbConfig.DBName))

	return db, nil
}

// OpenSQLite opens a sqlite database, used for local runs and tests
func OpenSQLite(dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if gormConfig == nil {
		gormConfig = &gorm.Config{
			Logger:  logger.Default.LogMode(logger.Silent),
			NowFunc: nowUTC,
		}
	}
	return gorm.Open(sqlite.Open(dsn), gormConfig)
}

// All persisted instants are UTC so that range predicates compare correctly
func nowUTC() time.Time {
	return time.Now().UTC()
}

// MigrateModels runs AutoMigrate for every persisted model
func MigrateModels(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}

	if err := db.AutoMigrate(
		&model.TenantStore{},
		&model.Product{},
		&model.SyncQueueItem{},
		&model.PriceSchedule{},
		&model.AuditLog{},
	); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	return nil
}

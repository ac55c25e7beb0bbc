package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PoolConfig sizes the database/sql pool behind gorm.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var DefaultPool = PoolConfig{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}

// ConnectPostgres opens dsn, retrying with a growing delay, configures the
// pool and migrates autoMigrateModels.
func ConnectPostgres(ctx context.Context, dsn string, pool PoolConfig, logger *zap.Logger, autoMigrateModels ...interface{}) (*gorm.DB, error) {
	const attempts = 10

	var db *gorm.DB
	var err error

	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			err = configurePool(ctx, db, pool)
		}
		if err == nil {
			logger.Info("connected to postgres")
			if len(autoMigrateModels) > 0 {
				if err := db.WithContext(ctx).AutoMigrate(autoMigrateModels...); err != nil {
					return nil, fmt.Errorf("automigrate failed: %w", err)
				}
			}
			return db, nil
		}

		logger.Warn("postgres connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 2 * time.Second):
		}
	}

	return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", attempts, err)
}

func configurePool(ctx context.Context, db *gorm.DB, pool PoolConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	return sqlDB.PingContext(ctx)
}

// Ping checks the connection is alive.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

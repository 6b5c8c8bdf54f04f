// Package postgres implements the durable system of record on GORM.
package postgres

import (
	"context"
	"fmt"
	"time"

	"taskforge/pkg/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store bundles every durable-store interface over one GORM connection.
type Store struct {
	db *gorm.DB
}

// NewStore initializes the GORM connection and migrates the schema.
func NewStore(connString string) (*Store, error) {
	config := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	err = db.AutoMigrate(
		&models.Job{},
		&models.Schedule{},
		&models.Worker{},
		&models.DeadLetterJob{},
		&models.WebhookEvent{},
	)
	if err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

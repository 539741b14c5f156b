package db

import (
	"fmt"

	"relayd/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate runs database migrations for all models
func Migrate(conn *gorm.DB, log *logrus.Entry) error {
	models := []interface{}{
		&model.RelayRecord{},
	}

	if err := conn.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithField("tables", len(models)).Info("Database migration completed")
	return nil
}

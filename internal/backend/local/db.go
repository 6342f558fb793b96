package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tasksync/internal/service"
)

// TaskRow is the stored form of a task.
type TaskRow struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	Title       string  `gorm:"not null"`
	Description string  `gorm:"not null"`
	Email       string  `gorm:"index;not null"`
	ImageURL    *string `gorm:"column:image_url"`
	CreatedAt   time.Time
}

func (r TaskRow) task() service.Task {
	return service.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Email:       r.Email,
		ImageURL:    r.ImageURL,
	}
}

// UserRow is a registered account.
type UserRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// TableName implements gorm's tabler.
func (UserRow) TableName() string { return "users" }

// OpenDB opens the sqlite database at dsn and migrates the task and user tables.
func OpenDB(dsn, table string) (*gorm.DB, error) {
	if !strings.HasPrefix(dsn, "file:") && !strings.HasPrefix(dsn, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db open failed: %w", err)
	}

	if err := db.Table(table).AutoMigrate(&TaskRow{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	if err := db.AutoMigrate(&UserRow{}); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database named by url. A postgres:// or
// postgresql:// URL selects the Postgres driver; anything else is treated
// as a sqlite path (":memory:" works for tests). An empty url falls back
// to a local sqlite file.
func Open(url string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	var (
		db      *gorm.DB
		err     error
		sqlite3 bool
	)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err = gorm.Open(postgres.Open(url), cfg)
	case url == "":
		db, err = gorm.Open(sqlite.Open("fantasma.db"), cfg)
		sqlite3 = true
	default:
		db, err = gorm.Open(sqlite.Open(url), cfg)
		sqlite3 = true
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if sqlite3 {
		// One connection: sqlite serialises writers anyway, and a shared
		// :memory: database must not be split across connections.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Client{},
		&AuthCode{},
		&RefreshToken{},
		&AccessToken{},
		&Proof{},
		&Nullifier{},
		&Issuer{},
		&Credential{},
		&AuditEntry{},
	)
}

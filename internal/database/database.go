package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gluk-w/wellgate/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is nil until Init succeeds; callers treat nil as "persistence disabled".
var DB *gorm.DB

// Init opens config.Cfg.DatabasePath. An empty path leaves DB nil.
func Init() error {
	if config.Cfg.DatabasePath == "" {
		return nil
	}
	db, err := Open(config.Cfg.DatabasePath)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// Open opens (creating if needed) the sqlite database at path in WAL mode and
// migrates the schema.
func Open(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&Setting{}, &SessionAuditLog{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return db, nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		DB = nil
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	if DB == nil {
		return "", gorm.ErrInvalidDB
	}
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	if DB == nil {
		return gorm.ErrInvalidDB
	}
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

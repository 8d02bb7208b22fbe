package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"storefront/internal/domain/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はDBに接続して *gorm.DB を返す。
// 一意制約違反は gorm.ErrDuplicatedKey に変換される。
func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), Config())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return gdb, nil
}

// テストの sqlite でも同じ設定を使う
func Config() *gorm.Config {
	return newConfig(log.New(os.Stderr, "\r\n", log.LstdFlags))
}

// 未検出は通常の分岐（冪等キーの検索など）なのでログに出さない
func newConfig(w logger.Writer) *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger: logger.New(w, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
	}
}

// Migrate はテーブルを作成/更新する。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.AuditLog{},
	)
}

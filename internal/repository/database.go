package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/facegate/internal/config"
	"github.com/example/facegate/internal/faceid"
)

// Open connects to the configured database and verifies it is reachable.
func Open(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", faceid.ErrStorage, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", faceid.ErrStorage, cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: access db handle: %w", faceid.ErrStorage, err)
	}
	if cfg.Driver == "sqlite" {
		// single writer; sqlite serializes anyway and this avoids SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping: %w", faceid.ErrStorage, err)
	}
	return db, nil
}

type zapGormWriter struct {
	sugar *zap.SugaredLogger
}

func (w zapGormWriter) Printf(format string, args ...interface{}) {
	w.sugar.Warnf(format, args...)
}

func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	return gormlogger.New(
		zapGormWriter{sugar: logger.Named("gorm").Sugar()},
		gormlogger.Config{
			SlowThreshold:             2 * time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/fitcoach-payments/internal"
	datamodel "github.com/frahmantamala/fitcoach-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/payment"
	"github.com/frahmantamala/fitcoach-payments/internal/payment/memory"
	paymentpostgres "github.com/frahmantamala/fitcoach-payments/internal/payment/postgres"
	paymentredis "github.com/frahmantamala/fitcoach-payments/internal/payment/redis"
)

// openStore builds the configured payment store and a func that releases its connections.
func openStore(cfg *internal.Config, logger *slog.Logger) (payment.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case internal.StoreDriverMemory:
		logger.Warn("using in-memory payment store; records are lost on restart")
		return memory.NewStore(), noop, nil

	case internal.StoreDriverPostgres:
		db, err := initDB(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), gormConfig())
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to open gorm on postgres: %w", err)
		}
		return paymentpostgres.NewPaymentRepository(gdb), db.Close, nil

	case internal.StoreDriverSQLite:
		gdb, err := gorm.Open(sqlite.Open(cfg.Store.SQLitePath), gormConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite %s: %w", cfg.Store.SQLitePath, err)
		}
		if err := gdb.AutoMigrate(&datamodel.Payment{}); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, nil, err
		}
		return paymentpostgres.NewPaymentRepository(gdb), sqlDB.Close, nil

	case internal.StoreDriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := internal.WithTimeout(context.Background(), 0)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to ping redis %s: %w", cfg.Redis.Addr, err)
		}
		return paymentredis.NewStore(client, cfg.Redis.KeyPrefix), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

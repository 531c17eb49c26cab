package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/RealZimboGuy/freightflow/internal/migrations"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenDatabase migrates and opens the database selected by FREIGHT_DATABASE_TYPE.
func OpenDatabase(ctx context.Context) (*sql.DB, error) {
	switch databaseType := config.GetSystemSettingString(config.DATABASE_TYPE); databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		return openPostgres(ctx, config.GetSystemSettingString(config.DATABASE_URL))
	case config.DATABASE_TYPE_MYSQL:
		return openMysql(ctx, config.GetSystemSettingString(config.DATABASE_URL))
	case config.DATABASE_TYPE_SQLLITE:
		return OpenSqlLite(ctx, config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME))
	default:
		return nil, fmt.Errorf("%s must be one of POSTGRES, MYSQL, SQLLITE, got %q", config.DATABASE_TYPE, databaseType)
	}
}

func openPostgres(ctx context.Context, dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the POSTGRES database type", config.DATABASE_URL)
	}
	slog.Info("Using Postgres database")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		return nil, fmt.Errorf("postgres migration: %w", err)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, db.PingContext(ctx)
}

func openMysql(ctx context.Context, dbURL string) (*sql.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the MYSQL database type", config.DATABASE_URL)
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		return nil, fmt.Errorf("%s must start with 'mysql://' for MySQL", config.DATABASE_URL)
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return nil, fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	slog.Info("Using MySQL database")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		return nil, fmt.Errorf("mysql migration: %w", err)
	}
	db, err := sql.Open("mysql", strings.TrimPrefix(dbURL, "mysql://"))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, db.PingContext(ctx)
}

// OpenSqlLite migrates and opens a SQLite file. Writes are serialised over a single connection.
func OpenSqlLite(ctx context.Context, fileName string) (*sql.DB, error) {
	if fileName == "" {
		return nil, fmt.Errorf("%s must be set", config.DATABASE_SQLLITE_FILE_NAME)
	}
	slog.Info("Using SQLite database", "file", fileName)
	if err := runMigrationsFromEmbed("sqlite3", "sqlite3://"+fileName); err != nil {
		return nil, fmt.Errorf("sqlite migration: %w", err)
	}
	db, err := sql.Open("sqlite3", fileName+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, db.PingContext(ctx)
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

package db

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"notionsync/internal/config"
)

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB

	// Set only in embedded dev mode; stopped on Close.
	embedded *embeddedpostgres.EmbeddedPostgres
}

// Open connects to Postgres. An empty DSN switches to dev mode: an
// embedded server is started under cfg.EmbeddedDataDir on cfg.EmbeddedPort.
func Open(cfg config.DBConfig) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	var embedded *embeddedpostgres.EmbeddedPostgres

	if dsn == "" {
		cleanupStalePostmaster(cfg.EmbeddedDataDir)
		embeddedCfg := embeddedpostgres.DefaultConfig().
			DataPath(cfg.EmbeddedDataDir).
			Port(uint32(cfg.EmbeddedPort)).
			Database("notionsync").
			Username("postgres").
			Password("postgres")
		embedded = embeddedpostgres.NewDatabase(embeddedCfg)
		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("start embedded postgres: %w", err)
		}
		dsn = fmt.Sprintf("host=127.0.0.1 port=%d user=postgres password=postgres dbname=notionsync sslmode=disable", cfg.EmbeddedPort)
	}

	gcfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	gdb, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, err
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: sqldb, embedded: embedded}, nil
}

func Close(db *DB) error {
	if db == nil {
		return nil
	}
	var err error
	if db.SQL != nil {
		err = db.SQL.Close()
	}
	if db.embedded != nil {
		if stopErr := db.embedded.Stop(); err == nil {
			err = stopErr
		}
	}
	return err
}

func Ping(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Ping()
}

func SetTimezone(db *DB, tz string) error {
	if tz == "" {
		return nil
	}
	_, err := db.SQL.Exec("SET TIME ZONE '" + tz + "'")
	return err
}

func NowUTC() time.Time {
	return time.Now().UTC()
}

// cleanupStalePostmaster removes a leftover postmaster.pid after a crash so
// the embedded server can start again. A live process is left alone.
func cleanupStalePostmaster(dataDir string) {
	pidFile := filepath.Join(dataDir, "postmaster.pid")
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return
	}
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	if !scanner.Scan() {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		_ = os.Remove(pidFile)
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidFile)
		return
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidFile)
	}
}

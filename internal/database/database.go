package database

import (
	"bufio"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"docsync/internal/config"
)

const (
	defaultEmbeddedDataDir = "./db_data"
	defaultEmbeddedPort    = 5433

	embeddedUser     = "docsync"
	embeddedPassword = "docsync"
	embeddedDatabase = "docsync"
)

// DB wraps gorm.DB and keeps a handle on the embedded server when one is active.
type DB struct {
	*gorm.DB
	embedded *embeddedpostgres.EmbeddedPostgres
}

// Connect opens the registry database. In embedded mode it starts a managed
// PostgreSQL process first and tears it down again on Close.
func Connect(cfg config.FileConfig) (*DB, error) {
	var (
		embedded *embeddedpostgres.EmbeddedPostgres
		dsn      = cfg.DatabaseURL
	)

	if cfg.DatabaseMode == "embedded" {
		port := cfg.EmbeddedDBPort
		if port == 0 {
			port = defaultEmbeddedPort
		}
		dataDir := cfg.EmbeddedDBDir
		if dataDir == "" {
			dataDir = defaultEmbeddedDataDir
		}

		cleanupStaleEmbedded(dataDir)
		if err := waitForPortRelease(port); err != nil {
			return nil, err
		}

		embedded = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
			DataPath(dataDir).
			Port(uint32(port)).
			Database(embeddedDatabase).
			Username(embeddedUser).
			Password(embeddedPassword))
		if err := embedded.Start(); err != nil {
			return nil, fmt.Errorf("start embedded database: %w", err)
		}
		slog.Info("embedded_database_started", "port", port, "dataDir", dataDir)

		dsn = fmt.Sprintf(
			"host=localhost port=%d user=%s password=%s dbname=%s sslmode=disable",
			port, embeddedUser, embeddedPassword, embeddedDatabase,
		)
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		if embedded != nil {
			_ = embedded.Stop()
		}
		return nil, fmt.Errorf("open db: %w", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	slog.Info("database_connected", "mode", cfg.DatabaseMode)
	return &DB{DB: db, embedded: embedded}, nil
}

// Close shuts down the connection pool and, in embedded mode, the server process.
func (db *DB) Close() error {
	if db.embedded != nil {
		slog.Info("embedded_database_stopping")
		_ = db.embedded.Stop()
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// cleanupStaleEmbedded stops a leftover server process from a previous crash.
// The embedded server refuses to start while the old postmaster.pid exists.
func cleanupStaleEmbedded(dataDir string) {
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
		slog.Warn("embedded_pid_file_unreadable", "path", pidFile, "error", err)
		return
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidFile)
		return
	}
	// FindProcess always succeeds on Unix; signal 0 tells us if it is alive.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		slog.Info("embedded_stale_pid_file_removed", "pid", pid)
		os.Remove(pidFile)
		return
	}

	slog.Warn("embedded_orphan_process_found", "pid", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("embedded_orphan_sigterm_failed", "pid", pid, "error", err)
	}
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			slog.Info("embedded_orphan_process_stopped", "pid", pid)
			os.Remove(pidFile)
			return
		}
	}

	slog.Warn("embedded_orphan_process_killed", "pid", pid)
	process.Kill()
	time.Sleep(500 * time.Millisecond)
	os.Remove(pidFile)
}

func waitForPortRelease(port int) error {
	if !isPortInUse(port) {
		return nil
	}
	slog.Warn("embedded_port_in_use", "port", port)
	for i := 0; i < 6; i++ {
		time.Sleep(500 * time.Millisecond)
		if !isPortInUse(port) {
			return nil
		}
	}
	return fmt.Errorf("port %d is still in use by another process", port)
}

func isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

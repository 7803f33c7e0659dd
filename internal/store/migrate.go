package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var migrateMu sync.Mutex

// gooseLogger adapts slog to goose's logger interface.
type gooseLogger struct{}

func (gooseLogger) Printf(format string, v ...interface{}) {
	slog.Info("store: " + strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	slog.Error("store: " + strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
	os.Exit(1)
}

// migrate runs the embedded migrations for dialect ("postgres" or "sqlite3")
// from migrations/<dir>.
func migrate(ctx context.Context, db *sql.DB, dialect, dir string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations/"+dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

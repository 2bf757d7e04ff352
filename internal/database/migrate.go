// Package database はPostgreSQL接続とスキーマのマイグレーションを提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、
// schema_migrationsがdirtyのまま残っていることを示す。
// 該当バージョンを手動で修復し `migrate force` するまで台帳テーブルには触れない。
var ErrDirtySchema = errors.New("database schema is dirty")

// SchemaState はschema_migrationsに記録されたスキーマの状態。
type SchemaState struct {
	Version uint // 適用済みの最新バージョン（未適用の場合は0）
	Dirty   bool
}

// migrateLogger はgolang-migrateのログをslogへ流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool { return false }

// NewMigrator は埋め込みマイグレーションを読み込むmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	m.Log = migrateLogger{logger: slog.Default()}

	return m, nil
}

func schemaState(m *migrate.Migrate) (SchemaState, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return SchemaState{}, nil
	}
	if err != nil {
		return SchemaState{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return SchemaState{Version: version, Dirty: dirty}, nil
}

// CurrentSchema は現在のスキーマバージョンとdirty状態を返す。
func CurrentSchema(databaseURL string) (SchemaState, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaState{}, err
	}
	defer m.Close()

	return schemaState(m)
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後の状態を返す。
// すでに最新の場合はエラーなしで返る。dirtyなスキーマにはUpを実行せずErrDirtySchemaを返す。
func RunMigrations(databaseURL string) (SchemaState, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return SchemaState{}, err
	}
	defer m.Close()

	before, err := schemaState(m)
	if err != nil {
		return SchemaState{}, err
	}
	if before.Dirty {
		return before, fmt.Errorf("%w: version %d needs manual repair before migrating", ErrDirtySchema, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return before, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := schemaState(m)
	if err != nil {
		return before, err
	}
	if after.Version != before.Version {
		slog.Info("database schema migrated",
			slog.Uint64("from_version", uint64(before.Version)),
			slog.Uint64("to_version", uint64(after.Version)),
		)
	}
	return after, nil
}

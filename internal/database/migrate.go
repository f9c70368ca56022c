// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationResult はRunMigrationsの前後のスキーマバージョン。
// バージョン0は未適用を表す。
type MigrationResult struct {
	FromVersion uint
	ToVersion   uint
}

// Applied はマイグレーションが1件以上適用されたかを返す。
func (r MigrationResult) Applied() bool {
	return r.ToVersion != r.FromVersion
}

// versioner はmigrate.Migrateのバージョン取得部分。
type versioner interface {
	Version() (version uint, dirty bool, err error)
}

// NewMigrator は埋め込みのSQLマイグレーションを読み込むmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、前後のバージョンを返す。
// 前回の実行が途中で失敗しdirtyな状態の場合は適用せずにエラーを返す。
func RunMigrations(databaseURL string) (MigrationResult, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationResult{}, err
	}
	defer m.Close()

	from, err := currentVersion(m)
	if err != nil {
		return MigrationResult{}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{FromVersion: from}, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, err := currentVersion(m)
	if err != nil {
		return MigrationResult{FromVersion: from}, err
	}
	return MigrationResult{FromVersion: from, ToVersion: to}, nil
}

// currentVersion は適用済みのスキーマバージョンを返す。未適用の場合は0。
func currentVersion(v versioner) (uint, error) {
	version, dirty, err := v.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty; fix it and force the version before migrating", version)
	}
	return version, nil
}

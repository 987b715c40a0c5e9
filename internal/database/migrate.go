// Package database はPostgreSQL接続プールと、埋め込みマイグレーションの適用を提供する。
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

// MigrationStatus はスキーマの適用状況。
type MigrationStatus struct {
	Version uint
	Dirty   bool
	// Applied はこの実行で新たにマイグレーションが適用されたかどうか。
	Applied bool
}

// NewMigrator は埋め込みSQL（users / user_logins）をソースとするmigrateインスタンスを生成する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、適用後の状況を返す。
// dirty状態のスキーマには適用せずエラーを返す。
func RunMigrations(databaseURL string) (MigrationStatus, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer m.Close()

	before, err := currentVersion(m)
	if err != nil {
		return MigrationStatus{}, err
	}
	if before.Dirty {
		return before, fmt.Errorf("schema is dirty at version %d: manual fix required", before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationStatus{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := currentVersion(m)
	if err != nil {
		return MigrationStatus{}, err
	}
	after.Applied = after.Version != before.Version
	return after, nil
}

// currentVersion は未初期化スキーマをバージョン0として扱う。
func currentVersion(m *migrate.Migrate) (MigrationStatus, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	if err != nil {
		return MigrationStatus{}, fmt.Errorf("failed to read migration version: %w", err)
	}
	return MigrationStatus{Version: v, Dirty: dirty}, nil
}

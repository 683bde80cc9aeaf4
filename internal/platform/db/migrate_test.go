package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write migration file: %v", err)
	}
}

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_ledger.sql", "CREATE TABLE stock_transaction ();")
	writeMigration(t, dir, "001_catalog.sql", "CREATE TABLE medicine ();")
	writeMigration(t, dir, "010_dispense.sql", "CREATE TABLE dispense_record ();")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 || migrations[2].Version != 10 {
		t.Errorf("expected versions [1 2 10], got [%d %d %d]",
			migrations[0].Version, migrations[1].Version, migrations[2].Version)
	}
}

func TestLoadMigrations_SkipsNonNumericPrefix(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_core.sql", "SELECT 1;")
	writeMigration(t, dir, "README.sql", "not a migration")
	writeMigration(t, dir, "notes.txt", "not sql")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected 001_core.sql, got %s", migrations[0].Name)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	m := NewMigrator(nil, "/nonexistent/migrations")
	_, err := m.LoadMigrations()
	if err == nil {
		t.Error("expected error for missing directory")
	}
}

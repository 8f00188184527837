package db

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/solatis/tripwire/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   string
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// MigrateUp applies pending migrations in filename order. Checksums of
// applied migrations are verified first so an edited migration is refused.
func MigrateUp(db *sqlx.DB) error {
	migrations, err := prepare(db)
	if err != nil {
		return err
	}

	if err := validateChecksums(db, migrations); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}

	for _, m := range migrations {
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	migrations, err := prepare(db)
	if err != nil {
		return nil, err
	}

	applied, err := appliedMigrations(db)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		if s, ok := applied[m.ID]; ok {
			statuses = append(statuses, s)
			continue
		}
		statuses = append(statuses, MigrationStatus{ID: m.ID, Checksum: m.Checksum})
	}
	return statuses, nil
}

// prepare ensures the tracking table exists and parses the embedded files
// for the connection's driver.
func prepare(db *sqlx.DB) ([]migration, error) {
	fsys, dir, err := migrationSource(db.DriverName())
	if err != nil {
		return nil, err
	}
	if err := createMigrationsTable(db); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	migrations, err := parseMigrationFiles(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	return migrations, nil
}

func migrationSource(driver string) (embed.FS, string, error) {
	switch driver {
	case "sqlite3":
		return embeddedmigrations.SqliteMigrations, "sqlite", nil
	case "postgres":
		return embeddedmigrations.PostgresMigrations, "postgres", nil
	default:
		return embed.FS{}, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

func parseMigrationFiles(fsys embed.FS, dir string) ([]migration, error) {
	var migrations []migration

	err := fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}

		content, err := fsys.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		migrations = append(migrations, migration{
			ID:       filepath.Base(path),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})
	return migrations, nil
}

// createMigrationsTable must match the migrations table in
// 001_initial_schema.sql.
func createMigrationsTable(db *sqlx.DB) error {
	createSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
			execution_ms INTEGER NOT NULL
		)
	`
	if db.DriverName() == "sqlite3" {
		createSQL = `
			CREATE TABLE IF NOT EXISTS migrations (
				migration_id TEXT PRIMARY KEY,
				checksum TEXT NOT NULL,
				applied_at TEXT NOT NULL,
				execution_ms INTEGER NOT NULL,
				CHECK (applied_at LIKE '____-__-__T__:__:__Z')
			)
		`
	}
	_, err := db.Exec(createSQL)
	return err
}

func appliedMigrations(db *sqlx.DB) (map[string]MigrationStatus, error) {
	rows, err := db.Queryx("SELECT migration_id, checksum, applied_at, execution_ms FROM migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]MigrationStatus)
	for rows.Next() {
		var (
			s         MigrationStatus
			appliedAt any
		)
		if err := rows.Scan(&s.ID, &s.Checksum, &appliedAt, &s.ExecutionMs); err != nil {
			return nil, err
		}
		switch v := appliedAt.(type) {
		case time.Time:
			s.AppliedAt = v.UTC().Format(time.RFC3339)
		case []byte:
			s.AppliedAt = string(v)
		case string:
			s.AppliedAt = v
		}
		s.Applied = true
		applied[s.ID] = s
	}
	return applied, rows.Err()
}

func validateChecksums(db *sqlx.DB, migrations []migration) error {
	applied, err := appliedMigrations(db)
	if err != nil {
		return err
	}

	embedded := make(map[string]string, len(migrations))
	for _, m := range migrations {
		embedded[m.ID] = m.Checksum
	}

	for id, s := range applied {
		want, ok := embedded[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if s.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, s.Checksum)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func apply(db *sqlx.DB, m migration) error {
	start := time.Now()

	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}

	// lib/pq doesn't support multiple statements in single Exec
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" || strings.HasPrefix(stmt, "--") {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: statement failed: %w", m.ID, err)
		}
	}

	now := time.Now().UTC()
	var appliedAt any = now
	if tx.DriverName() == "sqlite3" {
		appliedAt = now.Format(time.RFC3339)
	}
	_, err = tx.Exec(
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, appliedAt, time.Since(start).Milliseconds(),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return nil
}

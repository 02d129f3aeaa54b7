package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order; the position (1 based) is the version.
// Never edit a released step, append a new one.
var migrations = []string{
	`
	CREATE TABLE modules (
		id INTEGER PRIMARY KEY,
		uuid TEXT(36) NOT NULL UNIQUE,
		name TEXT NOT NULL
	);

	CREATE TABLE downloads (
		id INTEGER PRIMARY KEY,
		module_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		url TEXT,
		status TEXT NOT NULL,
		path TEXT NOT NULL,

		FOREIGN KEY (module_id)
			REFERENCES modules(id)
			ON DELETE RESTRICT
			ON UPDATE RESTRICT
	);

	CREATE TABLE download_chapters (
		id INTEGER PRIMARY KEY,
		download_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		chapter_id TEXT NOT NULL,
		status TEXT NOT NULL,
		path TEXT NOT NULL,

		UNIQUE (download_id, position),
		FOREIGN KEY (download_id)
			REFERENCES downloads(id)
			ON DELETE CASCADE
			ON UPDATE CASCADE
	);

	CREATE TABLE download_chapter_images (
		id INTEGER PRIMARY KEY,
		download_chapter_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		image_id TEXT NOT NULL,
		extension TEXT NOT NULL,
		name TEXT,
		path TEXT NOT NULL,
		status TEXT NOT NULL,

		UNIQUE (download_chapter_id, position),
		FOREIGN KEY (download_chapter_id)
			REFERENCES download_chapters(id)
			ON DELETE CASCADE
			ON UPDATE CASCADE
	);
	`,
	`
	CREATE INDEX download_status_index ON downloads(status);
	CREATE INDEX download_chapter_status_index ON download_chapters(status);
	`,
	`
	ALTER TABLE downloads ADD COLUMN "order" INTEGER NOT NULL DEFAULT 0;
	UPDATE downloads SET "order" = id;
	CREATE INDEX download_order_index ON downloads("order");
	`,
}

// InitDB opens the SQLite database at path and brings its schema up to date.
// Use ":memory:" for a throwaway database.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLite has a single writer and ":memory:" databases live per connection.
	db.SetMaxOpenConns(1)

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

// Migrate applies every migration newer than the version stored in the
// __migration table.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS __migration (
		id INTEGER PRIMARY KEY NOT NULL,
		version INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1

		if err := applyMigration(ctx, db, version, migrations[i]); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", version, err)
		}
	}

	return nil
}

// SchemaVersion returns the last applied migration, 0 for a new database.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64

	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM __migration`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	return int(version.Int64), nil
}

func applyMigration(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		tx.Rollback()

		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO __migration (version) VALUES (?)`, version); err != nil {
		tx.Rollback()

		return err
	}

	return tx.Commit()
}

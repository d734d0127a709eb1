package sqlite

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	ErrDBConnection = errors.New("database connection error")
	ErrDBQuery      = errors.New("database query error")
	ErrDBScan       = errors.New("database scan error")
	ErrMigration    = errors.New("database migration error")
	ErrSave         = errors.New("save error")
	ErrDelete       = errors.New("delete error")
)

type Database struct {
	*sqlx.DB
}

func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{DB: db}

	if err := database.Migrate(); err != nil {
		db.Close()

		return nil, err
	}

	return database, nil
}

func (db *Database) Migrate() error {
	migrations := &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "1_create_rounds",
				Up: []string{
					`CREATE TABLE IF NOT EXISTS rounds (
						client_id TEXT NOT NULL,
						session TEXT NOT NULL DEFAULT '',
						round INTEGER NOT NULL,
						status INTEGER NOT NULL DEFAULT 0,
						epochs INTEGER NOT NULL DEFAULT 0,
						batch_size INTEGER NOT NULL DEFAULT 0,
						learning_rate REAL NOT NULL DEFAULT 0,
						model_variant TEXT,
						loss REAL NOT NULL DEFAULT 0,
						accuracy REAL NOT NULL DEFAULT 0,
						num_samples INTEGER NOT NULL DEFAULT 0,
						error TEXT,
						weights BLOB,
						started_at TIMESTAMP,
						finished_at TIMESTAMP,
						PRIMARY KEY (client_id, session, round)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(status)`,
				},
				Down: []string{
					`DROP INDEX IF EXISTS idx_rounds_status`,
					`DROP TABLE IF EXISTS rounds`,
				},
			},
		},
	}

	if _, err := migrate.Exec(db.DB.DB, "sqlite3", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}

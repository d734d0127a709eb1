package postgres

import (
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
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

type Config struct {
	Host    string `env:"HOST"    envDefault:"localhost" toml:"host"`
	Port    string `env:"PORT"    envDefault:"5432"      toml:"port"`
	User    string `env:"USER"    envDefault:"fedmob"    toml:"user"`
	Pass    string `env:"PASS"    envDefault:"fedmob"    toml:"pass"`
	Name    string `env:"DB"      envDefault:"fedmob"    toml:"db"`
	SSLMode string `env:"SSLMODE" envDefault:"disable"   toml:"sslmode"`
}

type Database struct {
	*sqlx.DB
}

func NewDatabase(cfg Config) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Pass, cfg.Name, cfg.SSLMode)
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
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
						client_id VARCHAR(255) NOT NULL,
						session VARCHAR(255) NOT NULL DEFAULT '',
						round INTEGER NOT NULL,
						status SMALLINT NOT NULL DEFAULT 0,
						epochs INTEGER NOT NULL DEFAULT 0,
						batch_size INTEGER NOT NULL DEFAULT 0,
						learning_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
						model_variant VARCHAR(255),
						loss DOUBLE PRECISION NOT NULL DEFAULT 0,
						accuracy DOUBLE PRECISION NOT NULL DEFAULT 0,
						num_samples INTEGER NOT NULL DEFAULT 0,
						error TEXT,
						weights BYTEA,
						started_at TIMESTAMPTZ,
						finished_at TIMESTAMPTZ,
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

	if _, err := migrate.Exec(db.DB.DB, "postgres", migrations, migrate.Up); err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}

	return nil
}

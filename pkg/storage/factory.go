package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/absmach/fedmob/pkg/storage/badger"
	"github.com/absmach/fedmob/pkg/storage/postgres"
	"github.com/absmach/fedmob/pkg/storage/redis"
	"github.com/absmach/fedmob/pkg/storage/sqlite"
	"github.com/absmach/fedmob/round"
)

const (
	TypeMemory   = "memory"
	TypeBadger   = "badger"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

type Config struct {
	Type       string          `env:"TYPE"        envDefault:"memory"        toml:"type"`
	SQLitePath string          `env:"SQLITE_PATH" envDefault:"./fedmob.db"   toml:"sqlite_path"`
	BadgerPath string          `env:"BADGER_PATH" envDefault:"./data/badger" toml:"badger_path"`
	Postgres   postgres.Config `envPrefix:"POSTGRES_"                        toml:"postgres"`

	// RedisURL enables the redis session mirror when set.
	RedisURL   string        `env:"REDIS_URL"   envDefault:""    toml:"redis_url"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"24h" toml:"session_ttl"`
}

type Repositories struct {
	Rounds   round.Repository
	Sessions SessionStore
	// Closer closes every persistent connection opened for the repositories.
	// It is a no-op for the in-memory backend.
	Closer io.Closer
}

func NewRepositories(ctx context.Context, cfg Config) (*Repositories, error) {
	repos := &Repositories{Sessions: NewMemorySessions()}
	var closers closers

	switch cfg.Type {
	case TypePostgres:
		db, err := postgres.NewDatabase(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		repos.Rounds = postgres.NewRoundRepository(db)
		closers = append(closers, db)
	case TypeSQLite:
		db, err := sqlite.NewDatabase(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		repos.Rounds = sqlite.NewRoundRepository(db)
		closers = append(closers, db)
	case TypeBadger:
		db, err := badger.NewDatabase(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		repos.Rounds = badger.NewRoundRepository(db)
		closers = append(closers, db)
	case TypeMemory, "":
		repos.Rounds = NewMemoryRounds()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}

	if cfg.RedisURL != "" {
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, errors.Join(err, closers.Close())
		}
		repos.Sessions = redis.NewSessionStore(client, cfg.SessionTTL)
		closers = append(closers, client)
	}
	repos.Closer = closers

	return repos, nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		errs = append(errs, cs[i].Close())
	}

	return errors.Join(errs...)
}

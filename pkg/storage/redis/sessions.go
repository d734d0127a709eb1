// Package redis mirrors client session snapshots into redis hashes so that
// several processes can observe one client.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "fedmob:session:"
	indexKey  = "fedmob:sessions"

	DefaultTTL = 24 * time.Hour
)

var ErrDBConnection = errors.New("redis connection error")

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()

		return nil, fmt.Errorf("%w: %w", ErrDBConnection, err)
	}

	return client, nil
}

type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) Put(ctx context.Context, sess session.Session) error {
	if sess.ClientID == "" {
		return pkgerrors.ErrEmptyKey
	}

	key := keyPrefix + sess.ClientID
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"state", sess.State.String(),
			"current_round", sess.CurrentRound,
			"active_round", sess.ActiveRound,
			"last_error", sess.LastError,
			"created_at", sess.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at", sess.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, indexKey, sess.ClientID)

		return nil
	})

	return err
}

func (s *SessionStore) Get(ctx context.Context, clientID string) (session.Session, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+clientID).Result()
	if err != nil {
		return session.Session{}, err
	}
	if len(fields) == 0 {
		return session.Session{}, fmt.Errorf("%w: session %s", pkgerrors.ErrNotFound, clientID)
	}

	sess := session.Session{ClientID: clientID, LastError: fields["last_error"]}
	if err := sess.State.UnmarshalText([]byte(fields["state"])); err != nil {
		return session.Session{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}
	if sess.CurrentRound, err = atoi(fields["current_round"]); err != nil {
		return session.Session{}, err
	}
	if sess.ActiveRound, err = atoi(fields["active_round"]); err != nil {
		return session.Session{}, err
	}
	if sess.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return session.Session{}, err
	}
	if sess.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return session.Session{}, err
	}

	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, clientID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyPrefix+clientID)
		pipe.SRem(ctx, indexKey, clientID)

		return nil
	})

	return err
}

// Clients lists the IDs that have written a snapshot. Entries whose hash
// already expired are pruned from the index on the way.
func (s *SessionStore) Clients(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	live := ids[:0]
	for _, id := range ids {
		n, err := s.client.Exists(ctx, keyPrefix+id).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			s.client.SRem(ctx, indexKey, id)

			continue
		}
		live = append(live, id)
	}

	return live, nil
}

func atoi(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return n, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", pkgerrors.ErrInvalidData, err)
	}

	return t, nil
}

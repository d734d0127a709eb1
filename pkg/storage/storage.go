// Package storage selects and builds the persistence backends of a client:
// round history in memory, badger, sqlite or postgres, and session
// snapshots in memory or redis.
package storage

import (
	"context"

	"github.com/absmach/fedmob/pkg/session"
)

// SessionStore keeps the last known snapshot of each client session so that
// operators can inspect a client from outside its process.
type SessionStore interface {
	Put(ctx context.Context, s session.Session) error
	Get(ctx context.Context, clientID string) (session.Session, error)
	Delete(ctx context.Context, clientID string) error
}

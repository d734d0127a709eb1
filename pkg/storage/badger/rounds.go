package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/round"
)

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) round.Repository {
	return &roundRepo{db: db}
}

func roundPrefix(clientID string) []byte {
	return []byte("round:" + clientID + ":")
}

// Rounds are zero padded so that key order matches numeric order.
func roundNumberPrefix(clientID string, rnd int) []byte {
	return fmt.Appendf(roundPrefix(clientID), "%010d:", rnd)
}

func roundKey(clientID, session string, rnd int) []byte {
	return append(roundNumberPrefix(clientID, rnd), session...)
}

func (r *roundRepo) Save(ctx context.Context, rec round.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(dbRecord{Record: rec, Weights: rec.Weights})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	return r.db.set(roundKey(rec.ClientID, rec.Session, rec.Round), val)
}

func (r *roundRepo) Get(ctx context.Context, clientID string, rnd int) (round.Record, error) {
	if clientID == "" {
		return round.Record{}, pkgerrors.ErrEmptyKey
	}
	recs, err := r.sessions(clientID, rnd)
	if err != nil {
		return round.Record{}, err
	}
	if len(recs) == 0 {
		return round.Record{}, fmt.Errorf("%w: client %s round %d", ErrNotFound, clientID, rnd)
	}
	latest := recs[0]
	for _, rec := range recs[1:] {
		if rec.Newer(latest) {
			latest = rec
		}
	}

	return latest, nil
}

func (r *roundRepo) List(ctx context.Context, clientID string, offset, limit uint64) ([]round.Record, uint64, error) {
	if clientID == "" {
		return nil, 0, pkgerrors.ErrEmptyKey
	}
	vals, total, err := r.db.page(roundPrefix(clientID), offset, limit)
	if err != nil {
		return nil, 0, err
	}

	recs := make([]round.Record, 0, len(vals))
	for _, val := range vals {
		rec, err := decode(val)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}

	return recs, total, nil
}

func (r *roundRepo) Delete(ctx context.Context, clientID string, rnd int) error {
	if clientID == "" {
		return pkgerrors.ErrEmptyKey
	}

	recs, err := r.sessions(clientID, rnd)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := r.db.delete(roundKey(clientID, rec.Session, rnd)); err != nil {
			return err
		}
	}

	return nil
}

// sessions returns every record stored for the round, one per session.
func (r *roundRepo) sessions(clientID string, rnd int) ([]round.Record, error) {
	vals, _, err := r.db.page(roundNumberPrefix(clientID, rnd), 0, math.MaxUint64)
	if err != nil {
		return nil, err
	}
	recs := make([]round.Record, 0, len(vals))
	for _, val := range vals {
		rec, err := decode(val)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

// dbRecord carries the weights blob that round.Record hides from JSON.
type dbRecord struct {
	round.Record

	Weights []byte `json:"weights,omitempty"`
}

func decode(val []byte) (round.Record, error) {
	var dbr dbRecord
	if err := json.Unmarshal(val, &dbr); err != nil {
		return round.Record{}, fmt.Errorf("unmarshal error: %w", err)
	}
	rec := dbr.Record
	rec.Weights = dbr.Weights

	return rec, nil
}

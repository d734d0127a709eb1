package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/round"
)

type roundRepo struct {
	db *Database
}

func NewRoundRepository(db *Database) round.Repository {
	return &roundRepo{db: db}
}

type dbRound struct {
	ClientID     string         `db:"client_id"`
	Session      string         `db:"session"`
	Round        int            `db:"round"`
	Status       uint8          `db:"status"`
	Epochs       int            `db:"epochs"`
	BatchSize    int            `db:"batch_size"`
	LearningRate float64        `db:"learning_rate"`
	ModelVariant sql.NullString `db:"model_variant"`
	Loss         float64        `db:"loss"`
	Accuracy     float64        `db:"accuracy"`
	NumSamples   int            `db:"num_samples"`
	Error        sql.NullString `db:"error"`
	Weights      []byte         `db:"weights"`
	StartedAt    sql.NullTime   `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
}

const columns = `client_id, session, round, status, epochs, batch_size, learning_rate, model_variant,
	loss, accuracy, num_samples, error, weights, started_at, finished_at`

func (r *roundRepo) Save(ctx context.Context, rec round.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO rounds (` + columns + `)
		VALUES (:client_id, :session, :round, :status, :epochs, :batch_size, :learning_rate, :model_variant,
			:loss, :accuracy, :num_samples, :error, :weights, :started_at, :finished_at)
		ON CONFLICT (client_id, session, round) DO UPDATE SET
			status = excluded.status,
			epochs = excluded.epochs,
			batch_size = excluded.batch_size,
			learning_rate = excluded.learning_rate,
			model_variant = excluded.model_variant,
			loss = excluded.loss,
			accuracy = excluded.accuracy,
			num_samples = excluded.num_samples,
			error = excluded.error,
			weights = excluded.weights,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`

	if _, err := r.db.NamedExecContext(ctx, query, toDB(rec)); err != nil {
		return fmt.Errorf("%w: %w", ErrSave, err)
	}

	return nil
}

func (r *roundRepo) Get(ctx context.Context, clientID string, rnd int) (round.Record, error) {
	if clientID == "" {
		return round.Record{}, pkgerrors.ErrEmptyKey
	}

	query := `SELECT ` + columns + ` FROM rounds WHERE client_id = ? AND round = ?
		ORDER BY started_at DESC, session DESC LIMIT 1`

	var dbr dbRound
	if err := r.db.GetContext(ctx, &dbr, query, clientID, rnd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return round.Record{}, fmt.Errorf("%w: client %s round %d", pkgerrors.ErrNotFound, clientID, rnd)
		}

		return round.Record{}, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return fromDB(dbr), nil
}

func (r *roundRepo) List(ctx context.Context, clientID string, offset, limit uint64) ([]round.Record, uint64, error) {
	if clientID == "" {
		return nil, 0, pkgerrors.ErrEmptyKey
	}

	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM rounds WHERE client_id = ?`, clientID); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	query := `SELECT ` + columns + ` FROM rounds WHERE client_id = ? ORDER BY round, started_at, session LIMIT ? OFFSET ?`

	var rows []dbRound
	if err := r.db.SelectContext(ctx, &rows, query, clientID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	recs := make([]round.Record, 0, len(rows))
	for _, dbr := range rows {
		recs = append(recs, fromDB(dbr))
	}

	return recs, total, nil
}

func (r *roundRepo) Delete(ctx context.Context, clientID string, rnd int) error {
	if clientID == "" {
		return pkgerrors.ErrEmptyKey
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM rounds WHERE client_id = ? AND round = ?`, clientID, rnd); err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}

	return nil
}

func toDB(rec round.Record) dbRound {
	return dbRound{
		ClientID:     rec.ClientID,
		Session:      rec.Session,
		Round:        rec.Round,
		Status:       uint8(rec.Status),
		Epochs:       rec.Epochs,
		BatchSize:    rec.BatchSize,
		LearningRate: rec.LearningRate,
		ModelVariant: nullString(rec.ModelVariant),
		Loss:         rec.Loss,
		Accuracy:     rec.Accuracy,
		NumSamples:   rec.NumSamples,
		Error:        nullString(rec.Error),
		Weights:      rec.Weights,
		StartedAt:    nullTime(rec.StartedAt),
		FinishedAt:   nullTime(rec.FinishedAt),
	}
}

func fromDB(dbr dbRound) round.Record {
	return round.Record{
		ClientID:     dbr.ClientID,
		Session:      dbr.Session,
		Round:        dbr.Round,
		Status:       round.Status(dbr.Status),
		Epochs:       dbr.Epochs,
		BatchSize:    dbr.BatchSize,
		LearningRate: dbr.LearningRate,
		ModelVariant: dbr.ModelVariant.String,
		Loss:         dbr.Loss,
		Accuracy:     dbr.Accuracy,
		NumSamples:   dbr.NumSamples,
		Error:        dbr.Error.String,
		Weights:      dbr.Weights,
		StartedAt:    dbr.StartedAt.Time,
		FinishedAt:   dbr.FinishedAt.Time,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: t.UTC(), Valid: true}
}

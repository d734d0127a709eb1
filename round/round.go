// Package round describes the history of training rounds a client took part
// in and the repository contract used to persist it.
package round

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/fedmob/pkg/codec"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
)

type Status uint8

const (
	Running Status = iota
	Completed
	Failed
	Abandoned
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Abandoned:
		return "Abandoned"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for _, c := range []Status{Running, Completed, Failed, Abandoned} {
		if c.String() == string(b) {
			*s = c

			return nil
		}
	}

	return fmt.Errorf("unknown round status %q", string(b))
}

// Record is one round as seen by a single client. Round numbers restart with
// every registration, so Session tells apart rounds of the same number taken
// in different connections. Weights holds the CBOR encoding of the final
// weight set and is left out of JSON views.
type Record struct {
	ClientID     string    `json:"client_id"`
	Session      string    `json:"session,omitempty"`
	Round        int       `json:"round"`
	Status       Status    `json:"status"`
	Epochs       int       `json:"epochs"`
	BatchSize    int       `json:"batch_size"`
	LearningRate float64   `json:"learning_rate"`
	ModelVariant string    `json:"model_variant,omitempty"`
	Loss         float64   `json:"loss"`
	Accuracy     float64   `json:"accuracy"`
	NumSamples   int       `json:"num_samples"`
	Error        string    `json:"error,omitempty"`
	Weights      []byte    `json:"-"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (r *Record) SetWeights(ws codec.WeightSet) error {
	b, err := ws.MarshalBinary()
	if err != nil {
		return err
	}
	r.Weights = b

	return nil
}

func (r Record) DecodeWeights() (codec.WeightSet, error) {
	var ws codec.WeightSet
	if len(r.Weights) == 0 {
		return ws, nil
	}
	if err := ws.UnmarshalBinary(r.Weights); err != nil {
		return nil, err
	}

	return ws, nil
}

type Page struct {
	Offset uint64   `json:"offset"`
	Limit  uint64   `json:"limit"`
	Total  uint64   `json:"total"`
	Rounds []Record `json:"rounds"`
}

// Repository persists round records keyed by client, session and round
// number. Save inserts or replaces the record with the same key. Get returns
// the most recently started record for the round across sessions and Delete
// removes the round from every session. List returns records in ascending
// round order.
type Repository interface {
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, clientID string, round int) (Record, error)
	List(ctx context.Context, clientID string, offset, limit uint64) ([]Record, uint64, error)
	Delete(ctx context.Context, clientID string, round int) error
}

// Validate checks the fields every backend keys on.
func (r Record) Validate() error {
	if r.ClientID == "" {
		return pkgerrors.ErrEmptyKey
	}
	if r.Round < 0 {
		return fmt.Errorf("%w: negative round %d", pkgerrors.ErrInvalidData, r.Round)
	}

	return nil
}

// Newer reports whether r started after o. Ties fall back to the session id
// so that the order is total.
func (r Record) Newer(o Record) bool {
	if !r.StartedAt.Equal(o.StartedAt) {
		return r.StartedAt.After(o.StartedAt)
	}

	return r.Session > o.Session
}

package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/absmach/fedmob/pkg/codec"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/round"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound(clientID string, rnd int) round.Record {
	now := time.Now().UTC().Truncate(time.Second)

	return round.Record{
		ClientID:     clientID,
		Round:        rnd,
		Status:       round.Completed,
		Epochs:       2,
		BatchSize:    16,
		LearningRate: 0.05,
		ModelVariant: "dense_mlp",
		Loss:         0.25,
		Accuracy:     0.9,
		NumSamples:   64,
		StartedAt:    now.Add(-time.Minute),
		FinishedAt:   now,
	}
}

// AssertRecord compares records field by field, timestamps by instant.
func AssertRecord(t *testing.T, want, got round.Record) {
	t.Helper()
	assert.True(t, want.StartedAt.Equal(got.StartedAt), "started_at: want %s, got %s", want.StartedAt, got.StartedAt)
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt), "finished_at: want %s, got %s", want.FinishedAt, got.FinishedAt)
	assert.Equal(t, len(want.Weights), len(got.Weights))
	if len(want.Weights) > 0 {
		assert.Equal(t, want.Weights, got.Weights)
	}
	want.StartedAt, want.FinishedAt, want.Weights = time.Time{}, time.Time{}, nil
	got.StartedAt, got.FinishedAt, got.Weights = time.Time{}, time.Time{}, nil
	assert.Equal(t, want, got)
}

// RoundRepository exercises the behaviour every round.Repository backend
// shares. Each run uses fresh client IDs so backends may be shared.
func RoundRepository(t *testing.T, repo round.Repository) {
	ctx := context.Background()

	t.Run("save and get", func(t *testing.T) {
		rec := TestRound(uuid.NewString(), 1)
		ws := codec.WeightSet{codec.NewTensor([]int{2, 2}, []float32{1, 2, 3, 4}), codec.NewTensor([]int{2}, []float32{5, 6})}
		require.NoError(t, rec.SetWeights(ws))

		require.NoError(t, repo.Save(ctx, rec))
		got, err := repo.Get(ctx, rec.ClientID, rec.Round)
		require.NoError(t, err)
		AssertRecord(t, rec, got)

		decoded, err := got.DecodeWeights()
		require.NoError(t, err)
		assert.Equal(t, ws, decoded)
	})

	t.Run("save replaces", func(t *testing.T) {
		rec := TestRound(uuid.NewString(), 3)
		rec.Status = round.Running
		rec.FinishedAt = time.Time{}
		require.NoError(t, repo.Save(ctx, rec))

		rec.Status = round.Failed
		rec.Error = "training failed at stage train"
		rec.FinishedAt = time.Now().UTC().Truncate(time.Second)
		require.NoError(t, repo.Save(ctx, rec))

		got, err := repo.Get(ctx, rec.ClientID, rec.Round)
		require.NoError(t, err)
		AssertRecord(t, rec, got)
	})

	t.Run("sessions keep their own rounds", func(t *testing.T) {
		clientID := uuid.NewString()
		first := TestRound(clientID, 1)
		first.Session = "a-first"
		second := TestRound(clientID, 1)
		second.Session = "b-second"
		second.Status = round.Failed
		second.Error = "dataset exhausted"
		second.StartedAt = first.FinishedAt.Add(time.Minute)
		second.FinishedAt = second.StartedAt.Add(time.Minute)

		require.NoError(t, repo.Save(ctx, first))
		require.NoError(t, repo.Save(ctx, second))

		got, err := repo.Get(ctx, clientID, 1)
		require.NoError(t, err)
		AssertRecord(t, second, got)

		recs, total, err := repo.List(ctx, clientID, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), total)
		sessions := make([]string, 0, len(recs))
		for _, r := range recs {
			sessions = append(sessions, r.Session)
		}
		assert.ElementsMatch(t, []string{first.Session, second.Session}, sessions)

		require.NoError(t, repo.Delete(ctx, clientID, 1))
		_, total, err = repo.List(ctx, clientID, 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("validation", func(t *testing.T) {
		cases := []struct {
			desc string
			rec  round.Record
			err  error
		}{
			{desc: "empty client", rec: TestRound("", 1), err: pkgerrors.ErrEmptyKey},
			{desc: "negative round", rec: TestRound(uuid.NewString(), -1), err: pkgerrors.ErrInvalidData},
		}
		for _, tc := range cases {
			t.Run(tc.desc, func(t *testing.T) {
				assert.ErrorIs(t, repo.Save(ctx, tc.rec), tc.err)
			})
		}
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, uuid.NewString(), 1)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

		_, err = repo.Get(ctx, "", 1)
		assert.ErrorIs(t, err, pkgerrors.ErrEmptyKey)
	})

	t.Run("list pages in round order", func(t *testing.T) {
		clientID := uuid.NewString()
		other := uuid.NewString()
		for _, rnd := range []int{10, 2, 7, 1, 12} {
			require.NoError(t, repo.Save(ctx, TestRound(clientID, rnd)))
		}
		require.NoError(t, repo.Save(ctx, TestRound(other, 4)))

		cases := []struct {
			desc   string
			offset uint64
			limit  uint64
			rounds []int
		}{
			{desc: "all", offset: 0, limit: 10, rounds: []int{1, 2, 7, 10, 12}},
			{desc: "first page", offset: 0, limit: 2, rounds: []int{1, 2}},
			{desc: "middle page", offset: 2, limit: 2, rounds: []int{7, 10}},
			{desc: "past end", offset: 5, limit: 2, rounds: []int{}},
		}
		for _, tc := range cases {
			t.Run(tc.desc, func(t *testing.T) {
				recs, total, err := repo.List(ctx, clientID, tc.offset, tc.limit)
				require.NoError(t, err)
				assert.Equal(t, uint64(5), total)
				got := make([]int, 0, len(recs))
				for _, r := range recs {
					assert.Equal(t, clientID, r.ClientID)
					got = append(got, r.Round)
				}
				assert.Equal(t, tc.rounds, got)
			})
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := TestRound(uuid.NewString(), 5)
		require.NoError(t, repo.Save(ctx, rec))
		require.NoError(t, repo.Delete(ctx, rec.ClientID, rec.Round))

		_, err := repo.Get(ctx, rec.ClientID, rec.Round)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

		assert.NoError(t, repo.Delete(ctx, rec.ClientID, rec.Round))
	})
}

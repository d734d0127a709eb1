package redis_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/session"
	fedredis "github.com/absmach/fedmob/pkg/storage/redis"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client *goredis.Client

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		log.Printf("Skipping redis tests, docker unavailable: %s", err)
		os.Exit(0)
	}

	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7.2-alpine",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start container: %s", err)
	}

	url := fmt.Sprintf("redis://localhost:%s/0", container.GetPort("6379/tcp"))
	pool.MaxWait = 60 * time.Second
	if err := pool.Retry(func() error {
		var err error
		client, err = fedredis.Connect(context.Background(), url)

		return err
	}); err != nil {
		log.Fatalf("Could not connect to docker: %s", err)
	}

	code := m.Run()

	client.Close()
	if err := pool.Purge(container); err != nil {
		log.Fatalf("Could not purge container: %s", err)
	}

	os.Exit(code)
}

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	store := fedredis.NewSessionStore(client, time.Minute)

	now := time.Now().UTC()
	s := session.Session{
		ClientID:     "client-redis",
		State:        session.Training,
		CurrentRound: 4,
		ActiveRound:  5,
		LastError:    "previous round failed",
		CreatedAt:    now.Add(-time.Hour),
		UpdatedAt:    now,
	}
	require.NoError(t, store.Put(ctx, s))

	got, err := store.Get(ctx, s.ClientID)
	require.NoError(t, err)
	assert.Equal(t, s.State, got.State)
	assert.Equal(t, s.CurrentRound, got.CurrentRound)
	assert.Equal(t, s.ActiveRound, got.ActiveRound)
	assert.Equal(t, s.LastError, got.LastError)
	assert.True(t, s.UpdatedAt.Equal(got.UpdatedAt))

	ttl, err := client.TTL(ctx, "fedmob:session:"+s.ClientID).Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
	assert.LessOrEqual(t, ttl, time.Minute)

	ids, err := store.Clients(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, s.ClientID)

	require.NoError(t, store.Delete(ctx, s.ClientID))
	_, err = store.Get(ctx, s.ClientID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)

	ids, err = store.Clients(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, s.ClientID)

	assert.ErrorIs(t, store.Put(ctx, session.Session{}), pkgerrors.ErrEmptyKey)
}

package storage

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
)

var (
	_ round.Repository = (*memoryRounds)(nil)
	_ SessionStore     = (*memorySessions)(nil)
)

type roundKey struct {
	clientID string
	session  string
	round    int
}

type memoryRounds struct {
	sync.Mutex

	data map[roundKey]round.Record
}

func NewMemoryRounds() round.Repository {
	return &memoryRounds{data: make(map[roundKey]round.Record)}
}

func (m *memoryRounds) Save(_ context.Context, r round.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	m.Lock()
	defer m.Unlock()

	r.Weights = slices.Clone(r.Weights)
	m.data[roundKey{r.ClientID, r.Session, r.Round}] = r

	return nil
}

func (m *memoryRounds) Get(_ context.Context, clientID string, rnd int) (round.Record, error) {
	if clientID == "" {
		return round.Record{}, pkgerrors.ErrEmptyKey
	}

	m.Lock()
	defer m.Unlock()

	var (
		latest round.Record
		found  bool
	)
	for k, r := range m.data {
		if k.clientID != clientID || k.round != rnd {
			continue
		}
		if !found || r.Newer(latest) {
			latest, found = r, true
		}
	}
	if !found {
		return round.Record{}, fmt.Errorf("%w: client %s round %d", pkgerrors.ErrNotFound, clientID, rnd)
	}
	latest.Weights = slices.Clone(latest.Weights)

	return latest, nil
}

func (m *memoryRounds) List(_ context.Context, clientID string, offset, limit uint64) ([]round.Record, uint64, error) {
	if clientID == "" {
		return nil, 0, pkgerrors.ErrEmptyKey
	}

	m.Lock()
	defer m.Unlock()

	var all []round.Record
	for k, r := range m.data {
		if k.clientID == clientID {
			all = append(all, r)
		}
	}
	slices.SortFunc(all, func(a, b round.Record) int {
		if c := cmp.Compare(a.Round, b.Round); c != 0 {
			return c
		}
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}

		return cmp.Compare(a.Session, b.Session)
	})

	total := uint64(len(all))
	if offset >= total {
		return []round.Record{}, total, nil
	}
	end := min(offset+limit, total)

	return all[offset:end], total, nil
}

func (m *memoryRounds) Delete(_ context.Context, clientID string, rnd int) error {
	if clientID == "" {
		return pkgerrors.ErrEmptyKey
	}

	m.Lock()
	defer m.Unlock()

	for k := range m.data {
		if k.clientID == clientID && k.round == rnd {
			delete(m.data, k)
		}
	}

	return nil
}

type memorySessions struct {
	sync.Mutex

	data map[string]session.Session
}

func NewMemorySessions() SessionStore {
	return &memorySessions{data: make(map[string]session.Session)}
}

func (m *memorySessions) Put(_ context.Context, s session.Session) error {
	if s.ClientID == "" {
		return pkgerrors.ErrEmptyKey
	}

	m.Lock()
	defer m.Unlock()

	m.data[s.ClientID] = s

	return nil
}

func (m *memorySessions) Get(_ context.Context, clientID string) (session.Session, error) {
	m.Lock()
	defer m.Unlock()

	s, ok := m.data[clientID]
	if !ok {
		return session.Session{}, fmt.Errorf("%w: session %s", pkgerrors.ErrNotFound, clientID)
	}

	return s, nil
}

func (m *memorySessions) Delete(_ context.Context, clientID string) error {
	m.Lock()
	defer m.Unlock()

	delete(m.data, clientID)

	return nil
}

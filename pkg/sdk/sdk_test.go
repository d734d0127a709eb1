package sdk_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/pkg/sdk"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method string
	path   string
	query  string
	body   string
}

type recorder struct {
	mu   sync.Mutex
	last call
}

func (r *recorder) get() call {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.last
}

func newServer(t *testing.T, status int, payload any) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.last = call{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(b)}
		rec.mu.Unlock()
		w.Header().Set("Content-Type", sdk.CTJSON)
		w.WriteHeader(status)
		if payload != nil {
			_ = json.NewEncoder(w).Encode(payload)
		}
	}))
	t.Cleanup(srv.Close)

	return srv, rec
}

func TestListRounds(t *testing.T) {
	page := round.Page{Total: 2, Limit: 10, Rounds: []round.Record{
		{ClientID: "edge-1", Round: 1, Status: round.Completed},
		{ClientID: "edge-1", Round: 2, Status: round.Abandoned},
	}}

	cases := []struct {
		desc   string
		offset uint64
		limit  uint64
		query  string
	}{
		{desc: "defaults", query: ""},
		{desc: "offset and limit", offset: 5, limit: 10, query: "offset=5&limit=10"},
		{desc: "limit only", limit: 3, query: "limit=3"},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, last := newServer(t, http.StatusOK, page)
			s := sdk.NewSDK(sdk.Config{ClientURL: srv.URL})

			got, err := s.ListRounds(tc.offset, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, "/rounds", last.get().path)
			assert.Equal(t, tc.query, last.get().query)
			assert.Equal(t, uint64(2), got.Total)
			require.Len(t, got.Rounds, 2)
			assert.Equal(t, round.Abandoned, got.Rounds[1].Status)
		})
	}
}

func TestGetRound(t *testing.T) {
	cases := []struct {
		desc   string
		status int
		body   any
		err    bool
	}{
		{desc: "found", status: http.StatusOK, body: round.Record{ClientID: "edge-1", Round: 3, Status: round.Failed}},
		{desc: "not found", status: http.StatusNotFound, body: map[string]string{"error": "entity not found"}, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			srv, last := newServer(t, tc.status, tc.body)
			s := sdk.NewSDK(sdk.Config{ClientURL: srv.URL})

			r, err := s.GetRound(3)
			assert.Equal(t, "/rounds/3", last.get().path)
			if tc.err {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "entity not found")

				return
			}
			require.NoError(t, err)
			assert.Equal(t, round.Failed, r.Status)
		})
	}
}

func TestSessionAndHealth(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, session.Session{ClientID: "edge-1", State: session.Training, ActiveRound: 2})
	s := sdk.NewSDK(sdk.Config{ClientURL: srv.URL})

	sess, err := s.Session()
	require.NoError(t, err)
	assert.Equal(t, session.Training, sess.State)
	assert.Equal(t, 2, sess.ActiveRound)

	unhealthy, _ := newServer(t, http.StatusServiceUnavailable, map[string]any{"healthy": false, "warnings": []string{"rss above threshold"}})
	s = sdk.NewSDK(sdk.Config{ClientURL: unhealthy.URL})
	h, err := s.Health()
	require.NoError(t, err)
	assert.False(t, h.Healthy)
	assert.Len(t, h.Warnings, 1)
}

func TestBridgeCalls(t *testing.T) {
	srv, last := newServer(t, http.StatusOK, bridge.Summary{Total: 1, Clients: []bridge.ClientInfo{{ID: "edge-1", State: bridge.StateReady}}})
	s := sdk.NewSDK(sdk.Config{BridgeURL: srv.URL})

	sum, err := s.Clients()
	require.NoError(t, err)
	assert.Equal(t, "/clients", last.get().path)
	assert.Equal(t, 1, sum.Total)

	accepted, last := newServer(t, http.StatusAccepted, nil)
	s = sdk.NewSDK(sdk.Config{BridgeURL: accepted.URL})

	require.NoError(t, s.StartRound("edge-1", 4))
	assert.Equal(t, http.MethodPost, last.get().method)
	assert.Equal(t, "/clients/edge-1/rounds", last.get().path)
	assert.JSONEq(t, `{"round":4}`, last.get().body)

	require.NoError(t, s.Evaluate("edge-1", 0))
	assert.Equal(t, "/clients/edge-1/evaluate", last.get().path)

	_, err = s.Clients()
	assert.Error(t, err, "202 is not a valid listing response")
}

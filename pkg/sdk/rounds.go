package sdk

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
)

const (
	sessionEndpoint = "/session"
	healthEndpoint  = "/health"
	roundsEndpoint  = "/rounds"
)

func (sdk *fedSDK) Session() (session.Session, error) {
	var s session.Session
	if err := sdk.get(sdk.clientURL+sessionEndpoint, &s); err != nil {
		return session.Session{}, err
	}

	return s, nil
}

func (sdk *fedSDK) Health() (client.Health, error) {
	var h client.Health
	if err := sdk.get(sdk.clientURL+healthEndpoint, &h, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return client.Health{}, err
	}

	return h, nil
}

func (sdk *fedSDK) ListRounds(offset, limit uint64) (round.Page, error) {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	query := ""
	if len(queries) > 0 {
		query = "?" + strings.Join(queries, "&")
	}

	var page round.Page
	if err := sdk.get(sdk.clientURL+roundsEndpoint+query, &page); err != nil {
		return round.Page{}, err
	}

	return page, nil
}

func (sdk *fedSDK) GetRound(rnd int) (round.Record, error) {
	var r round.Record
	if err := sdk.get(sdk.clientURL+roundsEndpoint+"/"+strconv.Itoa(rnd), &r); err != nil {
		return round.Record{}, err
	}

	return r, nil
}

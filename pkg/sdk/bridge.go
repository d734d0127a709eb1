package sdk

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/absmach/fedmob/bridge"
)

const (
	clientsEndpoint = "/clients"
	resultsEndpoint = "/results"
)

type actionReq struct {
	Round int `json:"round"`
}

func (sdk *fedSDK) Clients() (bridge.Summary, error) {
	var s bridge.Summary
	if err := sdk.get(sdk.bridgeURL+clientsEndpoint, &s); err != nil {
		return bridge.Summary{}, err
	}

	return s, nil
}

func (sdk *fedSDK) Client(id string) (bridge.ClientInfo, error) {
	var c bridge.ClientInfo
	if err := sdk.get(sdk.bridgeURL+clientsEndpoint+"/"+url.PathEscape(id), &c); err != nil {
		return bridge.ClientInfo{}, err
	}

	return c, nil
}

func (sdk *fedSDK) Results() ([]bridge.Result, error) {
	var res struct {
		Results []bridge.Result `json:"results"`
	}
	if err := sdk.get(sdk.bridgeURL+resultsEndpoint, &res); err != nil {
		return nil, err
	}

	return res.Results, nil
}

func (sdk *fedSDK) StartRound(clientID string, rnd int) error {
	return sdk.action(clientID, "/rounds", rnd)
}

func (sdk *fedSDK) Evaluate(clientID string, rnd int) error {
	return sdk.action(clientID, "/evaluate", rnd)
}

func (sdk *fedSDK) action(clientID, path string, rnd int) error {
	data, err := json.Marshal(actionReq{Round: rnd})
	if err != nil {
		return err
	}
	reqURL := sdk.bridgeURL + clientsEndpoint + "/" + url.PathEscape(clientID) + path
	_, err = sdk.processRequest(http.MethodPost, reqURL, data, http.StatusAccepted)

	return err
}

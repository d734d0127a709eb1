package sdk

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
)

const CTJSON string = "application/json"

type SDK interface {
	// Session returns the client's current session.
	//
	// example:
	//  s, _ := sdk.Session()
	//  fmt.Println(s.State)
	Session() (session.Session, error)

	// Health returns the client's resource health. An unhealthy client is
	// returned without error.
	Health() (client.Health, error)

	// ListRounds lists the client's round records in round order.
	//
	// example:
	//  page, _ := sdk.ListRounds(0, 10)
	//  fmt.Println(page.Total)
	ListRounds(offset, limit uint64) (round.Page, error)

	// GetRound gets one round record.
	//
	// example:
	//  r, _ := sdk.GetRound(3)
	//  fmt.Println(r.Status)
	GetRound(rnd int) (round.Record, error)

	// Clients lists the clients registered with the bridge.
	Clients() (bridge.Summary, error)

	// Client gets one client registered with the bridge.
	Client(id string) (bridge.ClientInfo, error)

	// Results lists the training results the bridge has accepted.
	Results() ([]bridge.Result, error)

	// StartRound asks the bridge to offer a round to a client. A zero round
	// offers the client's next round.
	StartRound(clientID string, rnd int) error

	// Evaluate asks the bridge to send an evaluate_request to a client.
	Evaluate(clientID string, rnd int) error
}

type fedSDK struct {
	clientURL string
	bridgeURL string
	client    *http.Client
}

type Config struct {
	ClientURL       string
	BridgeURL       string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		clientURL: cfg.ClientURL,
		bridgeURL: cfg.BridgeURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) processRequest(method, reqURL string, data []byte, expectedRespCodes ...int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	for _, code := range expectedRespCodes {
		if resp.StatusCode == code {
			return body, nil
		}
	}

	var errRes struct {
		Err string `json:"error"`
	}
	if json.Unmarshal(body, &errRes) == nil && errRes.Err != "" {
		return []byte{}, fmt.Errorf("unexpected response code %d: %s", resp.StatusCode, errRes.Err)
	}

	return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
}

func (sdk *fedSDK) get(reqURL string, v any, codes ...int) error {
	if len(codes) == 0 {
		codes = []int{http.StatusOK}
	}
	body, err := sdk.processRequest(http.MethodGet, reqURL, nil, codes...)
	if err != nil {
		return err
	}

	return json.Unmarshal(body, v)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/fedmob/pkg/api"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const idKey = "id"

// Service is the operator surface of a bridge.
type Service interface {
	Summary() bridge.Summary
	Client(id string) (bridge.ClientInfo, bool)
	Results() []bridge.Result
	StartRound(clientID string, rnd int) error
	Evaluate(clientID string, rnd int) error
}

var _ Service = (*bridge.Bridge)(nil)

// MakeHandler serves the client WebSocket endpoint at /ws next to the JSON
// operator API.
func MakeHandler(svc Service, ws http.Handler, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Handle("/ws", ws)

	mux.Route("/clients", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			summaryEndpoint(svc),
			decodeEmptyReq,
			api.EncodeResponse,
			opts...,
		), "list-clients").ServeHTTP)
		r.Get("/{id}", otelhttp.NewHandler(kithttp.NewServer(
			clientEndpoint(svc),
			decodeClientReq,
			api.EncodeResponse,
			opts...,
		), "get-client").ServeHTTP)
		r.Post("/{id}/rounds", otelhttp.NewHandler(kithttp.NewServer(
			startRoundEndpoint(svc),
			decodeActionReq,
			api.EncodeResponse,
			opts...,
		), "start-round").ServeHTTP)
		r.Post("/{id}/evaluate", otelhttp.NewHandler(kithttp.NewServer(
			evaluateEndpoint(svc),
			decodeActionReq,
			api.EncodeResponse,
			opts...,
		), "evaluate").ServeHTTP)
	})

	mux.Get("/results", otelhttp.NewHandler(kithttp.NewServer(
		resultsEndpoint(svc),
		decodeEmptyReq,
		api.EncodeResponse,
		opts...,
	), "list-results").ServeHTTP)

	mux.Get("/health", supermq.Health("fedmob-bridge", instanceID))
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

type clientReq struct {
	id string
}

func (r clientReq) validate() error {
	if r.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type actionReq struct {
	id    string
	Round int `json:"round"`
}

func (r actionReq) validate() error {
	if r.id == "" {
		return apiutil.ErrMissingID
	}
	if r.Round < 0 {
		return errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
	}

	return nil
}

func decodeEmptyReq(_ context.Context, _ *http.Request) (any, error) {
	return nil, nil
}

func decodeClientReq(_ context.Context, r *http.Request) (any, error) {
	return clientReq{id: chi.URLParam(r, idKey)}, nil
}

func decodeActionReq(_ context.Context, r *http.Request) (any, error) {
	req := actionReq{id: chi.URLParam(r, idKey)}
	if r.ContentLength == 0 {
		return req, nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), api.ContentType) {
		return nil, errors.Join(apiutil.ErrValidation, apiutil.ErrUnsupportedContentType)
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(apiutil.ErrValidation, err)
	}

	return req, nil
}

func summaryEndpoint(svc Service) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		return summaryResponse{svc.Summary()}, nil
	}
}

func clientEndpoint(svc Service) endpoint.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(clientReq)
		if err := req.validate(); err != nil {
			return nil, errors.Join(apiutil.ErrValidation, err)
		}

		info, ok := svc.Client(req.id)
		if !ok {
			return nil, pkgerrors.ErrNotFound
		}

		return clientResponse{info}, nil
	}
}

func resultsEndpoint(svc Service) endpoint.Endpoint {
	return func(_ context.Context, _ any) (any, error) {
		res := svc.Results()

		return resultsResponse{Total: len(res), Results: res}, nil
	}
}

func startRoundEndpoint(svc Service) endpoint.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(actionReq)
		if err := req.validate(); err != nil {
			return nil, errors.Join(apiutil.ErrValidation, err)
		}
		if err := svc.StartRound(req.id, req.Round); err != nil {
			return nil, err
		}

		return acceptedResponse{}, nil
	}
}

func evaluateEndpoint(svc Service) endpoint.Endpoint {
	return func(_ context.Context, request any) (any, error) {
		req := request.(actionReq)
		if err := req.validate(); err != nil {
			return nil, errors.Join(apiutil.ErrValidation, err)
		}
		if err := svc.Evaluate(req.id, req.Round); err != nil {
			return nil, err
		}

		return acceptedResponse{}, nil
	}
}

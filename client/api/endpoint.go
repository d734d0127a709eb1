package api

import (
	"context"
	"errors"

	"github.com/absmach/fedmob/client"
	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func sessionEndpoint(svc client.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		s, err := svc.Session(ctx)
		if err != nil {
			return sessionResponse{}, err
		}

		return sessionResponse{Session: s}, nil
	}
}

func healthEndpoint(svc client.Service) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		h, err := svc.Health(ctx)
		if err != nil {
			return healthResponse{}, err
		}

		return healthResponse{Health: h}, nil
	}
}

func listRoundsEndpoint(svc client.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listRoundsReq)
		if !ok {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRoundsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		page, err := svc.ListRounds(ctx, req.offset, req.limit)
		if err != nil {
			return listRoundsResponse{}, err
		}

		return listRoundsResponse{Page: page}, nil
	}
}

func getRoundEndpoint(svc client.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		rec, err := svc.GetRound(ctx, req.round)
		if err != nil {
			return roundResponse{}, err
		}

		return roundResponse{Record: rec}, nil
	}
}

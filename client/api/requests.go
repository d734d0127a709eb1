package api

import (
	"github.com/absmach/fedmob/pkg/api"
	apiutil "github.com/absmach/supermq/api/http/util"
)

type roundReq struct {
	round int
}

func (r *roundReq) validate() error {
	if r.round < 0 {
		return apiutil.ErrMissingID
	}

	return nil
}

type listRoundsReq struct {
	offset, limit uint64
}

func (r *listRoundsReq) validate() error {
	if r.limit > api.MaxLimitSize {
		r.limit = api.MaxLimitSize
	}

	return nil
}

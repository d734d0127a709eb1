package api

import (
	"net/http"

	"github.com/absmach/fedmob/client"
	"github.com/absmach/fedmob/pkg/session"
	"github.com/absmach/fedmob/round"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*sessionResponse)(nil)
	_ supermq.Response = (*healthResponse)(nil)
	_ supermq.Response = (*roundResponse)(nil)
	_ supermq.Response = (*listRoundsResponse)(nil)
)

type sessionResponse struct {
	session.Session
}

func (s sessionResponse) Code() int {
	return http.StatusOK
}

func (s sessionResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s sessionResponse) Empty() bool {
	return false
}

type healthResponse struct {
	client.Health
}

// Code reports 503 while any resource threshold is exceeded so that health checks
// can act on it.
func (h healthResponse) Code() int {
	if !h.Healthy {
		return http.StatusServiceUnavailable
	}

	return http.StatusOK
}

func (h healthResponse) Headers() map[string]string {
	return map[string]string{}
}

func (h healthResponse) Empty() bool {
	return false
}

type roundResponse struct {
	round.Record
}

func (r roundResponse) Code() int {
	return http.StatusOK
}

func (r roundResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r roundResponse) Empty() bool {
	return false
}

type listRoundsResponse struct {
	round.Page
}

func (l listRoundsResponse) Code() int {
	return http.StatusOK
}

func (l listRoundsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRoundsResponse) Empty() bool {
	return false
}

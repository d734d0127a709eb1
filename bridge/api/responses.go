package api

import (
	"net/http"

	"github.com/absmach/fedmob/bridge"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*summaryResponse)(nil)
	_ supermq.Response = (*clientResponse)(nil)
	_ supermq.Response = (*resultsResponse)(nil)
	_ supermq.Response = (*acceptedResponse)(nil)
)

type summaryResponse struct {
	bridge.Summary
}

func (s summaryResponse) Code() int {
	return http.StatusOK
}

func (s summaryResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s summaryResponse) Empty() bool {
	return false
}

type clientResponse struct {
	bridge.ClientInfo
}

func (c clientResponse) Code() int {
	return http.StatusOK
}

func (c clientResponse) Headers() map[string]string {
	return map[string]string{}
}

func (c clientResponse) Empty() bool {
	return false
}

type resultsResponse struct {
	Total   int             `json:"total"`
	Results []bridge.Result `json:"results"`
}

func (r resultsResponse) Code() int {
	return http.StatusOK
}

func (r resultsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (r resultsResponse) Empty() bool {
	return false
}

type acceptedResponse struct{}

func (a acceptedResponse) Code() int {
	return http.StatusAccepted
}

func (a acceptedResponse) Headers() map[string]string {
	return map[string]string{}
}

func (a acceptedResponse) Empty() bool {
	return true
}

package api

import (
	"net/http"

	"github.com/prospectly/server/pkg/normalize"
	"github.com/prospectly/server/pkg/types"
)

type enrichRequest struct {
	Provider  string                 `json:"provider"`
	Operation types.Operation        `json:"operation"`
	Params    map[string]interface{} `json:"params"`
	Options   types.RequestOptions   `json:"options"`
}

// handleEnrich runs one synchronous enrichment. The response body is the
// normalized envelope either way; the HTTP status mirrors the error code on
// failure.
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tenant := tenantFrom(r)

	cleaned, err := normalize.Record(req.Operation, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := s.svc.Registry.Get(r.Context(), tenant, req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := s.svc.Dispatcher.Execute(r.Context(), tenant, p, &types.Request{
		Operation: req.Operation,
		Params:    cleaned,
		Options:   req.Options,
	})
	status := http.StatusOK
	if !resp.Success {
		status = httpStatus(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

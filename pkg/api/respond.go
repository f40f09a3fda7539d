package api

import (
	"encoding/json"
	"net/http"

	"github.com/prospectly/server/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatus maps the normalized error taxonomy to edge status codes.
func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrAuth:
		return http.StatusUnauthorized
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrInvalidInput, types.ErrOperationUnsupported:
		return http.StatusBadRequest
	case types.ErrRateLimit:
		return http.StatusTooManyRequests
	case types.ErrQuota:
		return http.StatusPaymentRequired
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	ne := types.AsError(err)
	writeJSON(w, httpStatus(ne.Code), map[string]interface{}{"error": ne})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeError(w, types.Errorf(types.ErrInvalidInput, "malformed request body: %v", err))
		return false
	}
	return true
}

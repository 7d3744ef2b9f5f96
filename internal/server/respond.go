package server

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "swapsmith/pkg/errors"
)

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *apperrors.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Message, Fields: ve.Fields})
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, apperrors.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, apperrors.ErrNotFound), errors.Is(err, apperrors.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	default:
		var ue *apperrors.UpstreamError
		if errors.As(err, &ue) {
			if apperrors.KindOf(err) == apperrors.KindTransientUpstream {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "upstream unavailable, retry shortly"})
				return
			}
			writeJSON(w, http.StatusBadGateway, errorBody{Error: ue.Message})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

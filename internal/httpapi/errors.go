package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MrEthical07/credflow"
	"go.uber.org/zap"
)

type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Emails  []string `json:"emails,omitempty"`
}

var kindStatus = map[credflow.Kind]int{
	credflow.KindNotFound:     http.StatusNotFound,
	credflow.KindConflict:     http.StatusConflict,
	credflow.KindUnauthorized: http.StatusUnauthorized,
	credflow.KindForbidden:    http.StatusForbidden,
	credflow.KindInvalidToken: http.StatusUnauthorized,
	credflow.KindExpiredToken: http.StatusUnauthorized,
	credflow.KindBadRequest:   http.StatusBadRequest,
	credflow.KindInternal:     http.StatusInternalServerError,
}

// StatusOf maps an engine error to its HTTP status.
func StatusOf(err error) int {
	if status, ok := kindStatus[credflow.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeEngineError renders err. Internal errors are logged and replaced by a
// generic message.
func (h *handler) writeEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := credflow.KindOf(err)
	resp := errorResponse{Code: kind.String(), Message: err.Error()}

	var unresolved *credflow.UnresolvedEmailsError
	if errors.As(err, &unresolved) {
		resp.Emails = unresolved.Emails
	}
	if kind == credflow.KindInternal {
		h.logger.Error("request failed",
			zap.String("op", op),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp.Message = "internal error"
	}

	writeJSON(w, StatusOf(err), resp)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

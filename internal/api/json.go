package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

const (
	maxPageBody   = 10 << 20
	maxRenameBody = 1 << 20
)

// Machine-readable error codes carried next to the message.
const (
	codeBadRequest   = "bad_request"
	codeInvalidID    = "invalid_id"
	codeNotFound     = "not_found"
	codeConflict     = "conflict"
	codeExists       = "already_exists"
	codeUnparseable  = "unparseable"
	codeUnavailable  = "unavailable"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func errorBody(code, msg string) errResponse {
	return errResponse{Error: msg, Code: code}
}

type validatable interface {
	Validate() error
}

// decodeBody reads a size-limited JSON body into v and validates it. On
// failure the 400 response is already written and false is returned.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(codeBadRequest, "request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody(codeBadRequest, "invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(codeBadRequest, err.Error()))
		return false
	}
	return true
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/apperr"
	"github.com/matheus3301/relay/internal/auth"
)

const maxBodyBytes = 1 << 20

// StatusOf maps a domain error to its HTTP status.
func StatusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Authorization:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *API) ok(w http.ResponseWriter, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	body["ok"] = true
	writeJSON(w, http.StatusOK, body)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": apperr.Message(err)})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Invalid("decode", "invalid JSON body")
	}
	return nil
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid("route", "invalid %s %q", name, raw)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter. Missing means 0.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Invalid("query", "invalid %s %q", name, raw)
	}
	return n, nil
}

func queryInts(r *http.Request, names ...string) ([]int64, error) {
	out := make([]int64, len(names))
	for i, name := range names {
		n, err := queryInt(r, name)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// caller returns the authenticated user. Routes are only reachable through
// the auth middleware, so the id is always set.
func caller(r *http.Request) int64 {
	id, _ := auth.UserID(r.Context())
	return id
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/resolve"
	"github.com/sells-group/charity-cli/internal/store"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps engine errors to status codes.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case store.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, resolve.ErrUnknownNumber):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// queryInt parses an integer query parameter. Missing values return def.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// page reads limit/offset, capping limit at maxPageSize.
func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", defaultPageSize); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}

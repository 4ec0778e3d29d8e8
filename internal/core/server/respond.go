package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/analyzer"
	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/coverage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error      string   `json:"error"`
	Kind       string   `json:"kind"`
	Candidates []string `json:"candidates,omitempty"`
}

// statusFor maps an error to its HTTP status and taxonomy kind.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, analyzer.KindInput.String()
	case errors.Is(err, coverage.ErrCityNotFound), errors.Is(err, coverage.ErrNoCoverageData):
		return http.StatusNotFound, analyzer.KindData.String()
	case errors.Is(err, coverage.ErrUnavailable):
		return http.StatusServiceUnavailable, analyzer.KindSystem.String()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, analyzer.KindSystem.String()
	}
	switch k := analyzer.Classify(err); k {
	case analyzer.KindInput:
		return http.StatusBadRequest, k.String()
	case analyzer.KindData:
		if errors.Is(err, analyzer.ErrFeatureNotFound) {
			return http.StatusNotFound, k.String()
		}
		return http.StatusUnprocessableEntity, k.String()
	default:
		return http.StatusInternalServerError, k.String()
	}
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: kind}
	var fnf *analyzer.FeatureNotFoundError
	if errors.As(err, &fnf) {
		body.Candidates = fnf.Candidates
	}
	lvl := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		lvl = slog.LevelError
		body.Error = "internal error"
	}
	a.log.Log(r.Context(), lvl, "request failed", "path", r.URL.Path, "status", status, "kind", kind, "err", err)
	writeJSON(w, status, body)
}

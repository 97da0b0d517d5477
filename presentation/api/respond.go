package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pagecap-go/application"
	"pagecap-go/domain/capture"
	"pagecap-go/domain/preset"
	"pagecap-go/infrastructure/browser"
	"pagecap-go/infrastructure/encoder"
)

var errHistoryDisabled = errors.New("capture history is disabled")

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
	Status      int    `json:"status"`
	Timestamp   string `json:"timestamp"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	var opErr *capture.OperationError
	if errors.As(err, &opErr) {
		resp.Description = opErr.Description()
	}
	respondJSON(w, status, resp)
}

// statusOf maps capture failures onto HTTP status codes.
func statusOf(err error) int {
	var vErr *capture.ValidationError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &vErr),
		errors.Is(err, capture.ErrMissingURL),
		errors.Is(err, capture.ErrInvalidScale),
		errors.Is(err, capture.ErrUnsupportedFormat),
		errors.Is(err, preset.ErrUnknownPreset),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrRecordNotFound),
		errors.Is(err, capture.ErrArtifactNotFound),
		errors.Is(err, application.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, errHistoryDisabled),
		errors.Is(err, encoder.ErrEncoderUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, browser.ErrRemoteUnhealthy),
		capture.IsCancellation(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads at most maxBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, int, error) {
	if r.Body == nil {
		return nil, http.StatusBadRequest, errors.New("request body required")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBytes)
		}
		return nil, http.StatusBadRequest, err
	}
	return body, 0, nil
}

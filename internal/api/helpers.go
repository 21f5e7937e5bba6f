package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"wasmscan/internal/compute"
	"wasmscan/internal/repository"
)

type apiEnvelope struct {
	Links map[string]string      `json:"_links,omitempty"`
	Meta  map[string]interface{} `json:"_meta,omitempty"`
	Data  interface{}            `json:"data,omitempty"`
	Error interface{}            `json:"error,omitempty"`
}

func writeAPIResponse(w http.ResponseWriter, data interface{}, meta map[string]interface{}, links map[string]string) {
	resp := apiEnvelope{
		Links: links,
		Meta:  meta,
		Data:  data,
	}
	json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiEnvelope{
		Error: map[string]string{"message": message},
	})
}

// errorStatus maps a compute or repository failure to an HTTP status.
// Unknown names and missing typed targets are 404, other user errors 400,
// an exhausted credit balance 402, everything else 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, compute.ErrFormulaNotFound), errors.Is(err, compute.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case compute.IsUserError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeComputeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeAPIError(w, status, msg)
}

// safeRawJSON normalizes empty output to an explicit JSON null so the
// envelope's data field is always well formed.
func safeRawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage(`null`)
	}
	return json.RawMessage(b)
}

func parseUintParam(val string) (uint64, error) {
	return strconv.ParseUint(val, 10, 64)
}

// parseRangeParam parses "S..E" into its two bounds.
func parseRangeParam(val string) (uint64, uint64, error) {
	lo, hi, ok := strings.Cut(val, "..")
	if !ok {
		return 0, 0, errors.New("expected the form S..E")
	}
	start, err := parseUintParam(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, err
	}
	end, err := parseUintParam(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

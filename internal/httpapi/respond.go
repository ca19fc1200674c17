package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moodmnky/dojo/internal/ledger"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the standard error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeLedgerError maps a ledger failure to a response: input rejections are
// the caller's fault (400 with the rejection code), anything else is a 500
// with the detail kept out of the body.
func writeLedgerError(w http.ResponseWriter, err error) {
	var inputErr *ledger.InputError
	if errors.As(err, &inputErr) {
		writeError(w, http.StatusBadRequest, string(inputErr.Code), inputErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}

// decodeBody reads a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// unmarshalStrict decodes pre-read bytes with the same strictness.
func unmarshalStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

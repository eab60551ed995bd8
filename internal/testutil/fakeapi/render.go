package fakeapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nkiryanov/storefront/internal/service/validate"
)

// Response envelope of the API
type envelope struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func renderData(w http.ResponseWriter, data any, message string) {
	jsonWithStatus(w, envelope{Success: true, Data: data, Message: message}, http.StatusOK)
}

func renderError(w http.ResponseWriter, message string, code int) {
	jsonWithStatus(w, envelope{Success: false, Message: message}, code)
}

// bindAndValidate decodes JSON request body into type T and validates it using struct tags
// Writes error response on failure
func bindAndValidate[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var value T

	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		renderError(w, "Failed to parse JSON: "+err.Error(), http.StatusBadRequest)
		return value, false
	}

	err := validate.Struct(value)
	var vErr *validate.Error
	switch {
	case err == nil:
		return value, true
	case errors.As(err, &vErr):
		jsonWithStatus(w, envelope{
			Success: false,
			Message: "The given data was invalid.",
			Errors:  fieldErrors(vErr.Fields),
		}, http.StatusUnprocessableEntity)
	default:
		renderError(w, err.Error(), http.StatusInternalServerError)
	}

	return value, false
}

// jsonWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}

	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func fieldErrors(fields map[string]string) map[string][]string {
	errs := make(map[string][]string, len(fields))
	for name, msg := range fields {
		errs[name] = []string{msg}
	}
	return errs
}

package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	coreerrors "loanledger/core/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

// statusFor maps a failure class onto an HTTP status.
func statusFor(class coreerrors.Class) int {
	switch class {
	case coreerrors.ClassNotFound:
		return http.StatusNotFound
	case coreerrors.ClassInvalidArgument, coreerrors.ClassMismatch:
		return http.StatusBadRequest
	case coreerrors.ClassUnauthorized, coreerrors.ClassConsentInvalid:
		return http.StatusForbidden
	case coreerrors.ClassInvalidState, coreerrors.ClassInsufficientFunds, coreerrors.ClassCustodyUnavailable:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	class := coreerrors.ClassOf(err)
	writeJSONError(w, statusFor(class), class.String(), err.Error())
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusBadRequest, coreerrors.ClassInvalidArgument.String(), message)
}

func writeJSONError(w http.ResponseWriter, status int, class, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: message, Class: class})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

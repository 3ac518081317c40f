// Package http holds the relay's chi-compatible handler helpers: error
// rendering and admin authentication.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	apperrors "github.com/chainsafe/nft-migration-relay/pkg/app/errors"
)

// RetryAfter is the Retry-After value sent with 429 responses. The migration
// form waits one minute before asking for another token id.
const RetryAfter = 60

// HandlerFunc is an http handler that reports failure by returning an error.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError adapts an error-returning HandlerFunc to http.HandlerFunc.
//
//	r.Post("/getTokenUri", http.HandleError(h.getTokenURI))
func HandleError(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			DefaultErrorHandler(w, err)
		}
	}
}

type errorResponse struct {
	ErrMsg     string `json:"error"`
	ErrMsgCode int    `json:"code"`
}

// DefaultErrorHandler renders err as {"error","code"}. Errors that are not
// ServiceErrors are reported as a generic 500 so internals do not leak.
func DefaultErrorHandler(w http.ResponseWriter, err error) {
	var svcErr *apperrors.ServiceError
	if !errors.As(err, &svcErr) {
		writeError(w, http.StatusInternalServerError, "Unexpected Service Error")
		return
	}
	if svcErr.Category == apperrors.CategoryTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfter))
	}
	writeError(w, svcErr.StatusCode(), svcErr.Message)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&errorResponse{ErrMsg: msg, ErrMsgCode: status})
}

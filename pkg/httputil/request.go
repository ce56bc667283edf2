package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrInvalidData is the only error MapRequest returns
var ErrInvalidData = errors.New("invalid request data")

// MapRequest binds the JSON body of r onto dest. A missing or empty body,
// malformed JSON, a type mismatch, or trailing data all yield
// ErrInvalidData. Unknown fields are ignored.
func MapRequest(r *http.Request, dest interface{}) error {
	if r == nil || r.Body == nil || dest == nil {
		return ErrInvalidData
	}

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrInvalidData)
		}
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON value", ErrInvalidData)
	}
	return nil
}

// MapRequestOrError binds the body of r onto dest, writing a 400 and
// returning false on failure.
func MapRequestOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := MapRequest(r, dest); err != nil {
		WriteBadRequest(w, ErrInvalidData.Error())
		return false
	}
	return true
}

// BearerToken extracts the token from an "Authorization: Bearer" header
func BearerToken(r *http.Request) string {
	const prefix = "bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

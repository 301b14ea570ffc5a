/*
Package req provides helper functions for HTTP request parsing and data binding.

Request bodies are small JSON documents (nicknames, chat text), so the package caps
the body size and rejects anything that is not exactly one well-formed JSON value.
*/
package req

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"vibechat/internal/pkg/errs"
)

// MaxBodyBytes caps every JSON request body accepted by the API (64 KB).
const MaxBodyBytes int64 = 64 << 10

// BindJSON attempts to bind the JSON data from the HTTP request body to the destination struct dst.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errs.NewError(errs.ErrRequestEntityTooLarge)
		}
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

package req

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"vibechat/internal/pkg/errs"
)

type joinBody struct {
	Nickname string `json:"nickname"`
}

func newJSONRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestBindJSON(t *testing.T) {
	t.Run("valid body", func(t *testing.T) {
		var dst joinBody
		err := BindJSON(httptest.NewRecorder(), newJSONRequest(`{"nickname":"Alice"}`), &dst)
		assert.Nil(t, err)
		assert.Equal(t, "Alice", dst.Nickname)
	})

	t.Run("wrong content type", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		r.Header.Set("Content-Type", "text/plain")
		err := BindJSON(httptest.NewRecorder(), r, &joinBody{})
		assert.Equal(t, errs.ErrUnsupportedMediaType, err.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		err := BindJSON(httptest.NewRecorder(), newJSONRequest(`{"nick":"Alice"}`), &joinBody{})
		assert.Equal(t, errs.ErrInvalidJSONFormat, err.Code)
	})

	t.Run("trailing data", func(t *testing.T) {
		err := BindJSON(httptest.NewRecorder(), newJSONRequest(`{"nickname":"a"}{"nickname":"b"}`), &joinBody{})
		assert.Equal(t, errs.ErrExtraContentInBody, err.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		huge := `{"nickname":"` + strings.Repeat("x", int(MaxBodyBytes)) + `"}`
		err := BindJSON(httptest.NewRecorder(), newJSONRequest(huge), &joinBody{})
		assert.Equal(t, errs.ErrRequestEntityTooLarge, err.Code)
	})
}

// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package restutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapHandlerFuncErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"bad request", BadRequest(errors.New("no block")), http.StatusBadRequest, "no block"},
		{"unauthorized", Unauthorized(errors.New("bad sig")), http.StatusUnauthorized, "bad sig"},
		{"forbidden", Forbidden(errors.New("not yours")), http.StatusForbidden, "not yours"},
		{"not found", NotFound(errors.New("missing")), http.StatusNotFound, "missing"},
		{"custom", HTTPError(errors.New("busy"), http.StatusServiceUnavailable), http.StatusServiceUnavailable, "busy"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h := WrapHandlerFunc(func(http.ResponseWriter, *http.Request) error { return tt.err })
			h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, JSONContentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), `"error"`)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestWrapHandlerFuncSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	h := WrapHandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return WriteJSON(w, M{"ok": true})
	})
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestParseJSONStrict(t *testing.T) {
	var v struct {
		A int `json:"a"`
	}
	require.NoError(t, ParseJSON(strings.NewReader(`{"a":1}`), &v))
	assert.Equal(t, 1, v.A)

	err := ParseJSON(strings.NewReader(`{"a":1,"zzz":2}`), &v)
	assert.Error(t, err)
}

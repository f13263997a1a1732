package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lendingcore/internal/apperr"
)

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindNotFound:      http.StatusNotFound,
		apperr.KindConflict:      http.StatusConflict,
		apperr.KindValidation:    http.StatusBadRequest,
		apperr.KindUnprocessable: http.StatusUnprocessableEntity,
		apperr.KindUnavailable:   http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		err := fmt.Errorf("wrapped: %w", apperr.New(kind, "c", "m"))
		assert.Equal(t, want, StatusFor(err), kind.String())
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestWriteErrorHidesInternalText(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zap.NewNop(), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "internal", body.Code)
	assert.NotContains(t, body.Error, "password")
}

func TestWriteErrorExposesClassifiedErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, zap.NewNop(), apperr.Conflict("copy_already_on_loan", "copy already on loan"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "copy_already_on_loan", body.Code)
	assert.Equal(t, "copy already on loan", body.Error)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	var v struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(req, &v)
	require.Error(t, err)
	assert.True(t, IsMalformedBody(err))
	assert.Equal(t, http.StatusBadRequest, StatusFor(err))
}

func TestIDParam(t *testing.T) {
	r := NewRouter(zap.NewNop())
	var gotErr error
	r.Get("/things/{id}", func(w http.ResponseWriter, req *http.Request) {
		_, gotErr = IDParam(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/not-a-uuid", nil))
	assert.ErrorIs(t, gotErr, ErrInvalidID)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/7f2c1d1e-6a53-4d7e-9a35-3b1f7c1d2e4f", nil))
	assert.NoError(t, gotErr)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

package apierr_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"bad request", apierr.New(apierr.EBadRequest, "op", "x"), http.StatusBadRequest},
		{"validation", apierr.New(apierr.EValidationFailed, "op", "x"), http.StatusBadRequest},
		{"schema", apierr.New(apierr.ESchemaNotRegistered, "op", "x"), http.StatusBadRequest},
		{"not found", apierr.New(apierr.ENotFound, "op", "x"), http.StatusNotFound},
		{"rate limited", apierr.New(apierr.ERateLimited, "op", "x"), http.StatusTooManyRequests},
		{"unauthenticated", apierr.New(apierr.EUnauthenticated, "op", "x"), http.StatusUnauthorized},
		{"conflict", apierr.New(apierr.EConflict, "op", "x"), http.StatusConflict},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apierr.HTTPStatus(tt.err))
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := apierr.New(apierr.ENotFound, "engine.Search", "no documents")
	err := fmt.Errorf("handler: %w", inner)
	assert.Equal(t, apierr.ENotFound, apierr.KindOf(err))
	assert.True(t, apierr.Is(err, apierr.ENotFound))
	assert.False(t, apierr.Is(nil, apierr.ENotFound))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := apierr.Wrap(apierr.EInternal, "docstore.Find", cause, "storage failure")
	assert.Equal(t, "storage failure: connection refused", err.Error())
	assert.Equal(t, "storage failure", apierr.Message(err))
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, "<not found>", (&apierr.Error{Kind: apierr.ENotFound}).Error())
	assert.Equal(t, "internal error", apierr.Message(errors.New("secret detail")))
}

func TestEncodeHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	apierr.EncodeHTTP(rec, apierr.New(apierr.ENotFound, "engine.Search", "no documents found matching criteria"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var body apierr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apierr.ENotFound, body.Code)
	assert.Equal(t, "no documents found matching criteria", body.Message)

	rec = httptest.NewRecorder()
	apierr.EncodeHTTP(rec, errors.New("dial tcp: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

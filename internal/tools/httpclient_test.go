package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONDecodesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"value":7}`))
	}))
	defer srv.Close()

	var out struct {
		Value int `json:"value"`
	}
	err := DoJSON(context.Background(), NewHTTPClient(time.Second), JSONRequest{
		Service:        "test",
		Op:             "get",
		Method:         http.MethodPost,
		URL:            srv.URL,
		Token:          "tok",
		IdempotencyKey: "key-1",
		Body:           map[string]int{"a": 1},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Value)
}

func TestDoJSONStatusErrors(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	req := JSONRequest{Service: "test", Op: "get", Method: http.MethodGet, URL: srv.URL}

	err := DoJSON(context.Background(), srv.Client(), req, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	status = http.StatusUnauthorized
	err = DoJSON(context.Background(), srv.Client(), req, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	status = http.StatusBadGateway
	err = DoJSON(context.Background(), srv.Client(), req, nil)
	var collabErr *CollaboratorError
	require.True(t, errors.As(err, &collabErr))
	assert.Equal(t, http.StatusBadGateway, collabErr.StatusCode)
	assert.Equal(t, "test get: status 502", collabErr.Error())
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestDoJSONTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := DoJSON(context.Background(), NewHTTPClient(time.Second), JSONRequest{Service: "test", Op: "get", Method: http.MethodGet, URL: url}, nil)
	var collabErr *CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Zero(t, collabErr.StatusCode)
}

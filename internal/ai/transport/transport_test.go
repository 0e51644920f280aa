package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Key"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["msg"]})
	}))
	defer srv.Close()

	c := transport.NewClient(time.Second)
	var out map[string]string
	err := c.PostJSON(context.Background(), srv.URL, map[string]string{"X-Key": "secret"}, map[string]string{"msg": "hi"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi", out["echo"])
}

func TestPostJSON_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, transport.ErrProviderUnavailable},
		{http.StatusServiceUnavailable, transport.ErrProviderUnavailable},
		{http.StatusTooManyRequests, transport.ErrProviderUnavailable},
		{http.StatusBadRequest, transport.ErrInvalidResponse},
		{http.StatusUnauthorized, transport.ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := transport.NewClient(time.Second).PostJSON(context.Background(), srv.URL, nil, struct{}{}, &struct{}{})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestPostJSON_BadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	err := transport.NewClient(time.Second).PostJSON(context.Background(), srv.URL, nil, struct{}{}, &struct{}{})
	assert.ErrorIs(t, err, transport.ErrInvalidResponse)
}

func TestPostJSON_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	err := transport.NewClient(50*time.Millisecond).PostJSON(context.Background(), srv.URL, nil, struct{}{}, &struct{}{})
	assert.ErrorIs(t, err, transport.ErrInferenceTimeout)
}

func TestPostJSON_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := transport.NewClient(time.Minute).PostJSON(ctx, srv.URL, nil, struct{}{}, &struct{}{})
	assert.ErrorIs(t, err, transport.ErrInferenceTimeout)
}

func TestPostJSON_Unreachable(t *testing.T) {
	err := transport.NewClient(time.Second).PostJSON(context.Background(), "http://127.0.0.1:1", nil, struct{}{}, &struct{}{})
	assert.ErrorIs(t, err, transport.ErrProviderUnavailable)
}

func TestPrompt(t *testing.T) {
	p, err := transport.Prompt(map[string]any{"prompt": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", p)

	_, err = transport.Prompt(map[string]any{"prompt": 42})
	assert.ErrorIs(t, err, transport.ErrInvalidInput)

	_, err = transport.Prompt(nil)
	assert.ErrorIs(t, err, transport.ErrInvalidInput)
}

package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamBot/pkg/errors"
)

func TestPostSendsContent(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewWebhookPoster(srv.URL, srv.Client(), zap.NewNop())
	require.NoError(t, p.Post(context.Background(), "¡En vivo!"))
	assert.Equal(t, "¡En vivo!", payload["content"])
}

func TestPostErrors(t *testing.T) {
	assert.True(t, errors.IsNotConnected(NewWebhookPoster("", nil, nil).Post(context.Background(), "x")))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	err := NewWebhookPoster(srv.URL, srv.Client(), nil).Post(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/splitledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookProviderPostsMessage(t *testing.T) {
	var got webhookMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhookProvider(srv.URL, srv.Client()).PostMessage(context.Background(), "#ledger", "sale_not_found")
	require.NoError(t, err)
	assert.Equal(t, "#ledger", got.Channel)
	assert.Equal(t, "sale_not_found", got.Text)
}

func TestWebhookProviderSurfacesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhookProvider(srv.URL, srv.Client()).PostMessage(context.Background(), "", "x")
	assert.ErrorContains(t, err, "403")
}

func TestNewWithoutURLIsNoop(t *testing.T) {
	_, ok := New(config.Config{}).(*NoOpProvider)
	assert.True(t, ok)
}

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dutydesk/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPing() *models.Ping {
	return &models.Ping{
		ID:        "abc",
		TestType:  models.TestTypeRadio,
		Note:      "room 2",
		Requester: models.Person{ID: "1", Tag: "candidate"},
		Status:    models.PingOpen,
	}
}

func TestDiscordChannelPostsMessage(t *testing.T) {
	var got message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/channels/chan/messages", r.URL.Path)
		assert.Equal(t, "Bot tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewDiscordChannel(server.URL, "chan", "tok", time.Second)
	require.NoError(t, n.NotifyPing(context.Background(), testPing()))
	assert.Equal(t, FormatPing(testPing()), got.Content)
	assert.Contains(t, got.Content, "candidate")
	assert.Contains(t, got.Content, "room 2")
}

func TestDiscordChannelReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	n := NewDiscordChannel(server.URL, "chan", "tok", time.Second)
	assert.Error(t, n.NotifyPing(context.Background(), testPing()))
}

package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer access" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"jwt expired"}`))
			return
		}
		if r.URL.Path != "/conversation/chats/room-1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"conversation not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"conversation":{"id":"room-1","chats":[
			{"id":"m1","text":"hi","time":"2026-01-02T10:00:00Z","viewed":true,"user":{"id":"u2"}},
			{"id":"m2","text":"","time":"2026-01-02T10:01:00Z","viewed":false,"image":"http://img/x.png","user":{"id":"u1"}}
		],"peerProfile":{"id":"u2"}}}`))
	}))
	defer srv.Close()

	token := "access"
	h := NewHTTPHistory(srv.URL+"/", func() string { return token })

	chats, err := h.History(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "m1", chats[0].ID)
	assert.Equal(t, "u2", chats[0].SentBy)
	assert.Equal(t, "hi", chats[0].Content)
	assert.True(t, chats[0].Viewed)
	assert.Equal(t, time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC), chats[0].Timestamp.UTC())
	assert.Equal(t, "http://img/x.png", chats[1].Image)

	_, err = h.History(context.Background(), "other")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation not found")

	token = "stale"
	_, err = h.History(context.Background(), "room-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

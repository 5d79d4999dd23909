package coldsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendBatch(t *testing.T) {
	var gotPath, gotAuth string
	var gotRecords []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRecords))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123", 5*time.Second)
	err := client.SendBatch(context.Background(), CollectionPages, []any{
		wirePage{ID: "pg_1", UserID: "u1", URL: "https://example.com/"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/sync/pages", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	require.Len(t, gotRecords, 1)
	assert.Equal(t, "pg_1", gotRecords[0]["id"])
	assert.Equal(t, "u1", gotRecords[0]["user_id"])
}

func TestClient_SendBatch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	err := client.SendBatch(context.Background(), CollectionVisits, []any{wireVisit{ID: "vs_1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestClient_SendBatch_NoTokenNoHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second)
	require.NoError(t, client.SendBatch(context.Background(), CollectionSessions, nil))
	assert.Empty(t, gotAuth)
}

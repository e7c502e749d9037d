package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddleup/huddle-notify/internal/platform/config"
	"github.com/huddleup/huddle-notify/internal/platform/metrics"
	"github.com/huddleup/huddle-notify/internal/relay/hub"
	"github.com/huddleup/huddle-notify/internal/relay/middleware"
	"github.com/huddleup/huddle-notify/internal/relay/server"
	"github.com/huddleup/huddle-notify/internal/relay/store"
)

const testSecret = "session-test-secret"

// startBackend runs the relay in-process so the whole pipeline is exercised
// end to end: REST hydration, socket pushes and mutations.
func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := server.New(
		config.RelayConfig{JWTSecret: testSecret},
		hub.New(nil),
		store.NewMemoryStore(),
		nil,
		metrics.NewNop(),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Backend: config.BackendConfig{
			HTTPBaseURL:  backendURL,
			SocketURL:    "ws" + strings.TrimPrefix(backendURL, "http") + "/ws",
			ProbeTimeout: time.Second,
		},
		Transport: config.TransportConfig{
			BaseDelay:   10 * time.Millisecond,
			MaxAttempts: 5,
		},
		Filter: config.FilterConfig{
			StaleWindow:  60 * time.Second,
			RepeatWindow: 2 * time.Second,
		},
		Feedback: config.FeedbackConfig{
			PreferencesPath: filepath.Join(t.TempDir(), "prefs.yaml"),
		},
		Gateway: config.GatewayConfig{
			RequestTimeout: 2 * time.Second,
			Mode:           "lenient",
		},
		Session: config.SessionConfig{
			RefreshSpec: "@every 1h",
			PageSize:    20,
		},
	}
}

func startSession(t *testing.T, backendURL string) *Session {
	t.Helper()

	s, err := New(testConfig(t, backendURL), nil, metrics.NewNop(), Options{})
	require.NoError(t, err)

	token, err := middleware.SignToken([]byte(testSecret), "u1")
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background(), "u1", token))
	t.Cleanup(s.Close)

	// Wait until the backend has processed the join so pushes are not lost
	require.Eventually(t, s.Transport.IsConnected, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		resp, err := http.Get(backendURL + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var health struct {
			ConnectedUsers int `json:"connected_users"`
		}
		return json.NewDecoder(resp.Body).Decode(&health) == nil && health.ConnectedUsers == 1
	}, 2*time.Second, 10*time.Millisecond)
	return s
}

func createNotification(t *testing.T, backendURL, userID, content string) {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"userId":  userID,
		"kind":    "message-received",
		"content": content,
	})
	require.NoError(t, err)

	token, err := middleware.SignToken([]byte(testSecret), userID)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, backendURL+"/api/v1/notifications", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestSessionPushFlowsIntoStore(t *testing.T) {
	backend := startBackend(t)
	s := startSession(t, backend.URL)

	createNotification(t, backend.URL, "u1", "someone liked your post")

	require.Eventually(t, func() bool { return s.Store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.Store.UnreadCount())

	records := s.Store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "someone liked your post", records[0].Content)
}

func TestSessionInitialHydration(t *testing.T) {
	backend := startBackend(t)

	// Notifications that existed before login arrive via the fetch path
	createNotification(t, backend.URL, "u1", "while you were away")
	createNotification(t, backend.URL, "u1", "and another")

	s := startSession(t, backend.URL)

	require.Eventually(t, func() bool { return s.Store.Len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, s.Store.UnreadCount())
}

func TestSessionRefreshDeduplicatesAgainstPushes(t *testing.T) {
	backend := startBackend(t)
	s := startSession(t, backend.URL)

	createNotification(t, backend.URL, "u1", "pushed live")
	require.Eventually(t, func() bool { return s.Store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	// A refresh re-fetches the same record; the store must not grow
	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, s.Store.Len())
	assert.Equal(t, 1, s.Store.UnreadCount())
}

func TestSessionMutationsApplyLocallyAndRemotely(t *testing.T) {
	backend := startBackend(t)
	s := startSession(t, backend.URL)

	createNotification(t, backend.URL, "u1", "to be read")
	require.Eventually(t, func() bool { return s.Store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	id := s.Store.Records()[0].ID

	require.NoError(t, s.MarkRead(context.Background(), id))
	assert.Equal(t, 0, s.Store.UnreadCount())

	// The server agrees after the round trip
	count, err := s.Gateway.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, s.Remove(context.Background(), id))
	assert.Equal(t, 0, s.Store.Len())
}

func TestSessionMarkAllAndRemoveAll(t *testing.T) {
	backend := startBackend(t)
	s := startSession(t, backend.URL)

	createNotification(t, backend.URL, "u1", "one")
	createNotification(t, backend.URL, "u1", "two")
	require.Eventually(t, func() bool { return s.Store.Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.MarkAllRead(context.Background()))
	assert.Equal(t, 0, s.Store.UnreadCount())

	require.NoError(t, s.RemoveAll(context.Background()))
	assert.Equal(t, 0, s.Store.Len())
}

func TestSessionCloseClearsEverything(t *testing.T) {
	backend := startBackend(t)
	s := startSession(t, backend.URL)

	createNotification(t, backend.URL, "u1", "ephemeral")
	require.Eventually(t, func() bool { return s.Store.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Close()

	assert.Equal(t, 0, s.Store.Len())
	assert.Equal(t, 0, s.Store.UnreadCount())
	assert.False(t, s.Transport.IsConnected())
}

func TestSessionOtherUsersPushIsInvisible(t *testing.T) {
	backend := startBackend(t)
	s := startSession(t, backend.URL)

	createNotification(t, backend.URL, "u2", "someone else's")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, s.Store.Len())
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifyDeviceUnreachable_PostsPayload(t *testing.T) {
	var got AlertPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewAlertNotifier(server.URL, "192.168.1.201", zap.NewNop())

	err := notifier.NotifyDeviceUnreachable(context.Background(), 3, errors.New("dial tcp: connection refused"))

	require.NoError(t, err)
	assert.Equal(t, "antigravity-biosync", got.Source)
	assert.Equal(t, "192.168.1.201", got.DeviceHost)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	assert.Contains(t, got.LastError, "connection refused")
	assert.False(t, got.OccurredAt.IsZero())
}

func TestNotifyDeviceUnreachable_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewAlertNotifier(server.URL, "192.168.1.201", zap.NewNop())
	notifier.httpClient.SetRetryCount(0)

	err := notifier.NotifyDeviceUnreachable(context.Background(), 5, errors.New("timeout"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNotifyDeviceUnreachable_DisabledWithoutURL(t *testing.T) {
	notifier := NewAlertNotifier("", "192.168.1.201", zap.NewNop())

	assert.False(t, notifier.Enabled())
	assert.NoError(t, notifier.NotifyDeviceUnreachable(context.Background(), 10, errors.New("unreachable")))
}

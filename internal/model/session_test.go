package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusNames(t *testing.T) {
	names := make([]string, 0, len(AllStatuses))
	for _, s := range AllStatuses {
		names = append(names, s.String())
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.Equal(t, []string{"disconnected", "qr_ready", "authenticated", "ready", "auth_failure", "error", "stopped"}, names)

	_, err := ParseStatus("connecting")
	assert.Error(t, err)
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range AllStatuses {
		assert.Equal(t, s == StatusError || s == StatusStopped, s.Terminal(), s.String())
	}
}

func TestStatusJSON(t *testing.T) {
	raw, err := json.Marshal(StatusQRReady)
	require.NoError(t, err)
	assert.JSONEq(t, `"qr_ready"`, string(raw))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"auth_failure"`), &s))
	assert.Equal(t, StatusAuthFailure, s)
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &s))
}

func TestSnapshotResponse(t *testing.T) {
	raw, err := json.Marshal(Snapshot{SessionID: "1", Status: StatusReady}.Response())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"1","status":"ready","isReady":true,"qrArtifact":null}`, string(raw))

	raw, err = json.Marshal(Snapshot{SessionID: "1", Status: StatusQRReady, QRArtifact: "data:x"}.Response())
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"1","status":"qr_ready","isReady":false,"qrArtifact":"data:x"}`, string(raw))
}

func TestNewSessionView(t *testing.T) {
	rec := SessionRecord{SessionID: "1", Name: "bot_1", Port: 8001, Status: StatusReady}

	v := NewSessionView(rec, nil)
	assert.False(t, v.Running)
	assert.Equal(t, StatusStopped, v.Status, "a stored ready status is stale once the session is down")
	assert.False(t, v.IsReady)

	rec.Status = StatusError
	assert.Equal(t, StatusError, NewSessionView(rec, nil).Status)

	snap := Snapshot{SessionID: "1", Status: StatusQRReady, QRArtifact: "data:x"}
	v = NewSessionView(rec, &snap)
	assert.True(t, v.Running)
	assert.Equal(t, StatusQRReady, v.Status)
	require.NotNil(t, v.QRArtifact)
	assert.Equal(t, "data:x", *v.QRArtifact)
}

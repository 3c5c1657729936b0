package model

import (
	"context"
	"path/filepath"
	"testing"

	"wabot-gateway/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	db, dialect, err := database.OpenAppDB("sqlite://" + filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSessionStore(db, dialect)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()), "migrate is idempotent")
	return store
}

func TestSessionStoreCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &SessionRecord{SessionID: "2", Name: "two", Port: 8002}))
	require.NoError(t, store.Create(ctx, &SessionRecord{SessionID: "1", Name: "one", Port: 8001, WebhookURL: "http://hook"}))
	assert.Error(t, store.Create(ctx, &SessionRecord{SessionID: "1", Port: 9999}), "duplicate id")

	rec, err := store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "one", rec.Name)
	assert.Equal(t, 8001, rec.Port)
	assert.Equal(t, "http://hook", rec.WebhookURL)
	assert.Equal(t, StatusDisconnected, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	rec, err = store.Get(ctx, "2")
	require.NoError(t, err)
	assert.Empty(t, rec.WebhookURL)

	require.NoError(t, store.UpdateStatus(ctx, "1", StatusReady))
	rec, err = store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, rec.Status)

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].SessionID, "ordered by creation")

	require.NoError(t, store.Delete(ctx, "2"))
	_, err = store.Get(ctx, "2")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "2"), ErrSessionNotFound)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "2", StatusReady), ErrSessionNotFound)
}


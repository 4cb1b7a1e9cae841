package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})

	// The documents table belongs to the CRUD layer and is not part of this
	// service's migrations; create a minimal copy for the mirror tests.
	_, err = s.db.Exec(`CREATE TABLE documents (
		id INTEGER PRIMARY KEY,
		latex_content TEXT,
		updated_at TIMESTAMP
	)`)
	require.NoError(t, err)
	return s
}

func TestLoadStateAbsent(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.LoadState(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.SaveState(ctx, 42, []byte("state-a")))
	state, err := s.LoadState(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []byte("state-a"), state)
}

func TestSaveStateUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.SaveState(ctx, 42, []byte("state-a")))
	require.NoError(t, s.SaveState(ctx, 42, []byte("state-a")))
	require.NoError(t, s.SaveState(ctx, 42, []byte("state-b")))

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM crdt_documents WHERE document_id = 42`,
	).Scan(&count))
	assert.Equal(t, 1, count)

	state, err := s.LoadState(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, []byte("state-b"), state)
}

func TestSaveStateIndependentDocuments(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.SaveState(ctx, 1, []byte("one")))
	require.NoError(t, s.SaveState(ctx, 2, []byte("two")))

	state, err := s.LoadState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), state)
	state, err = s.LoadState(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), state)
}

func TestAppendUpdate(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.AppendUpdate(ctx, 42, []byte("delta-1")))
	require.NoError(t, s.AppendUpdate(ctx, 42, []byte("delta-2")))
	require.NoError(t, s.AppendUpdate(ctx, 7, []byte("delta-3")))

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM crdt_updates WHERE document_id = 42`,
	).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestDeleteStateRemovesStateAndUpdates(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	require.NoError(t, s.SaveState(ctx, 42, []byte("state-a")))
	require.NoError(t, s.AppendUpdate(ctx, 42, []byte("delta-1")))
	require.NoError(t, s.SaveState(ctx, 7, []byte("state-b")))
	require.NoError(t, s.AppendUpdate(ctx, 7, []byte("delta-2")))

	require.NoError(t, s.DeleteState(ctx, 42))

	_, err := s.LoadState(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM crdt_updates WHERE document_id = 42`,
	).Scan(&count))
	assert.Zero(t, count)

	// the other document is untouched
	_, err = s.LoadState(ctx, 7)
	assert.NoError(t, err)
}

func TestDeleteStateMissingDocument(t *testing.T) {
	s := setupTestStore(t)
	assert.NoError(t, s.DeleteState(context.Background(), 999))
}

func TestLoadLegacyText(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.LoadLegacyText(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.db.Exec(`INSERT INTO documents (id, latex_content) VALUES (42, 'intro text')`)
	require.NoError(t, err)
	text, err := s.LoadLegacyText(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "intro text", text)
}

func TestLoadLegacyTextNullColumn(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.db.Exec(`INSERT INTO documents (id, latex_content) VALUES (42, NULL)`)
	require.NoError(t, err)
	text, err := s.LoadLegacyText(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestSaveLegacyText(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.db.Exec(`INSERT INTO documents (id, latex_content) VALUES (42, 'old')`)
	require.NoError(t, err)

	require.NoError(t, s.SaveLegacyText(ctx, 42, "new content"))
	text, err := s.LoadLegacyText(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "new content", text)
}

func TestSaveLegacyTextMissingRow(t *testing.T) {
	s := setupTestStore(t)
	// the owning row may not exist; this must not fail
	assert.NoError(t, s.SaveLegacyText(context.Background(), 999, "content"))
}

package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/model"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	return store, dir
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestFileStore(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.ReplaceWhitelist(ctx, []string{"u1", "u2"}))
	require.NoError(t, store.ReplaceBatches(ctx, [][]string{{"111", "222"}, {"333"}}))
	rec, batch, err := store.AssignBatch(ctx, AssignRequest{Identity: "u1", At: at})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RedeemCount)
	assert.Equal(t, []string{"111", "222"}, batch.Phones)
	require.NoError(t, store.AppendUploads(ctx, []model.UploadEntry{
		{ID: uuid.New(), Identity: "u1", Phone: "111", UploadedAt: at},
	}))
	claimed, err := store.ToggleMark(ctx, "111", at)
	require.NoError(t, err)
	assert.True(t, claimed)

	reopened, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)

	ids, err := reopened.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	got, err := reopened.GetStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RedeemCount)
	require.NotNil(t, got.BatchIndex)
	assert.Equal(t, 0, *got.BatchIndex)
	assert.WithinDuration(t, at, got.LastRedeemedAt, time.Millisecond)

	uploads, err := reopened.ListUploads(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "111", uploads[0].Phone)
	assert.True(t, uploads[0].UploadedAt.Equal(at))

	marks, err := reopened.ListMarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"111": true}, marks)

	blacklist, err := reopened.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"111"}, blacklist)
}

func TestFileStore_MalformedFilesFailClosed(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestFileStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, WhitelistFile), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, StatusFile), []byte(`{
		"ok":      {"count": 1, "last": 1714550400, "index": 0},
		"nocount": {"last": 1714550400},
		"negative": {"count": -1, "last": 1}
	}`), 0o644))

	ok, err := store.IsWhitelisted(ctx, "anyone")
	require.NoError(t, err)
	assert.False(t, ok)

	statuses, err := store.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "ok", statuses[0].Identity)
	assert.Equal(t, time.Unix(1714550400, 0).UTC(), statuses[0].LastRedeemedAt.UTC())
}

func TestFileStore_ReadsLegacyUploadLog(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestFileStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, UploadLogFile), []byte(`{
		"u1": [
			{"phone": "111", "time": "2024-05-01 10:00:00"},
			{"phone": "", "time": "2024-05-01 10:00:00"},
			{"phone": "222", "time": "yesterday"}
		]
	}`), 0o644))

	uploads, err := store.ListUploads(ctx, "")
	require.NoError(t, err)
	require.Len(t, uploads, 1)
	assert.Equal(t, "111", uploads[0].Phone)
	assert.Equal(t, "u1", uploads[0].Identity)
	assert.NotEqual(t, uuid.Nil, uploads[0].ID)

	again, err := store.ListUploads(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uploads[0].ID, again[0].ID, "derived ids are stable across reads")
}

func TestFileStore_MissingDirectoryFilesAreEmpty(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestFileStore(t)

	batches, err := store.ListBatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, batches)

	_, err = store.GetStatus(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Ping(ctx))
}

func TestFileStore_MarkAddedEntriesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestFileStore(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	_, err := store.ToggleMark(ctx, "111", at)
	require.NoError(t, err)

	reopened, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	claimed, err := reopened.ToggleMark(ctx, "111", at)
	require.NoError(t, err)
	assert.False(t, claimed)

	blacklist, err := reopened.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Empty(t, blacklist)
}

func TestFileStore_LegacyBlacklistIsPermanent(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestFileStore(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, os.WriteFile(filepath.Join(dir, BlacklistFile), []byte(`["900"]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MarkFile), []byte(`{"900": true}`), 0o644))

	claimed, err := store.ToggleMark(ctx, "900", at)
	require.NoError(t, err)
	assert.False(t, claimed)

	blacklist, err := store.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"900"}, blacklist)
}

func TestFileStore_FailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestFileStore(t)
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, store.AddToBlacklist(ctx, []string{"900"}))

	backend := store.backend.(*fileBackend)
	backend.rename = func(oldpath, newpath string) error {
		if filepath.Base(newpath) == MarkFile {
			return os.ErrPermission
		}
		return os.Rename(oldpath, newpath)
	}

	_, err := store.ToggleMark(ctx, "111", at)
	require.Error(t, err)

	backend.rename = os.Rename
	blacklist, err := store.ListBlacklist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"900"}, blacklist)
	marks, err := store.ListMarks(ctx)
	require.NoError(t, err)
	assert.Empty(t, marks)

	markAdded, err := os.ReadFile(filepath.Join(dir, MarkAddedFile))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(markAdded))

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/docextract/internal/task"
)

func setupTestStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	s, err := New(mr.Addr(), "", 0, ttl)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return s, mr
}

func sampleMetadata(submittedAt time.Time) Metadata {
	return Metadata{
		Filename:    "invoice.pdf",
		FileSize:    2048,
		MIMEType:    "application/pdf",
		Pages:       3,
		SubmittedAt: submittedAt,
		Status:      task.StatePending,
	}
}

func TestStore_PutAndGet(t *testing.T) {
	s, mr := setupTestStore(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	submitted := time.Now()
	require.NoError(t, s.Put(ctx, "task-1", sampleMetadata(submitted)))

	got, err := s.Get(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "invoice.pdf", got.Filename)
	assert.Equal(t, int64(2048), got.FileSize)
	assert.Equal(t, "application/pdf", got.MIMEType)
	assert.Equal(t, 3, got.Pages)
	assert.Equal(t, submitted.Unix(), got.SubmittedAt.Unix())
	assert.Equal(t, task.StatePending, got.Status)
}

func TestStore_GetUnknownIsAbsentNotError(t *testing.T) {
	s, mr := setupTestStore(t, time.Hour)
	defer mr.Close()

	got, err := s.Get(context.Background(), "never-existed")

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ListRecentMostRecentFirst(t *testing.T) {
	s, mr := setupTestStore(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.Put(ctx, "first", sampleMetadata(base.Add(-2*time.Minute))))
	require.NoError(t, s.Put(ctx, "second", sampleMetadata(base.Add(-1*time.Minute))))
	require.NoError(t, s.Put(ctx, "third", sampleMetadata(base)))

	ids, err := s.ListRecent(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"third", "second", "first"}, ids)
}

func TestStore_RefreshStatus(t *testing.T) {
	s, mr := setupTestStore(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "task-1", sampleMetadata(time.Now())))
	require.NoError(t, s.RefreshStatus(ctx, "task-1", task.StateSuccess))

	got, err := s.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, task.StateSuccess, got.Status)
}

func TestStore_RefreshStatusOnAgedRecordIsNoop(t *testing.T) {
	s, mr := setupTestStore(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.RefreshStatus(ctx, "aged-out", task.StateSuccess))

	got, err := s.Get(ctx, "aged-out")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RefreshStatusNeverLeavesRecordWithoutTTL(t *testing.T) {
	ttl := time.Hour
	s, mr := setupTestStore(t, ttl)
	defer mr.Close()
	ctx := context.Background()

	// A record recreated after expiring mid-refresh carries only a
	// status field and no expiry.
	require.NoError(t, s.client.HSet(ctx, metaPrefix+"raced", "status", string(task.StatePending)).Err())

	require.NoError(t, s.RefreshStatus(ctx, "raced", task.StateStarted))

	got, err := s.Get(ctx, "raced")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StateStarted, got.Status)

	// The refresh re-arms the TTL, so the leaked record still ages
	// out instead of reporting a stale status forever.
	mr.FastForward(ttl + time.Minute)

	got, err = s.Get(ctx, "raced")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_RecordsAndListExpireTogether(t *testing.T) {
	ttl := time.Hour
	s, mr := setupTestStore(t, ttl)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "task-1", sampleMetadata(time.Now())))

	mr.FastForward(ttl + time.Minute)

	got, err := s.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ids, err := s.ListRecent(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "task-1")
}

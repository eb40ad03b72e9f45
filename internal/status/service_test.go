package status

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/docextract/internal/dispatch"
	"github.com/podushkina/docextract/internal/metadata"
	"github.com/podushkina/docextract/internal/queue"
	"github.com/podushkina/docextract/internal/task"
)

func setupTest(t *testing.T, ttl time.Duration) (*Service, *dispatch.Dispatcher, *queue.Queue, *metadata.Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	q, err := queue.New(mr.Addr(), "", 0)
	require.NoError(t, err)

	store, err := metadata.New(mr.Addr(), "", 0, ttl)
	require.NoError(t, err)

	svc := New(q, store, zerolog.Nop())
	d := dispatch.New(q, store, zerolog.Nop())
	return svc, d, q, store, mr
}

func submit(t *testing.T, d *dispatch.Dispatcher) string {
	t.Helper()
	id, err := d.Submit(context.Background(), dispatch.Submission{
		Path:     "/tmp/staged/doc.pdf",
		MIMEType: "application/pdf",
		Filename: "doc.pdf",
		FileSize: 100,
	})
	require.NoError(t, err)
	return id
}

func TestGetResult_NotReadyImmediatelyAfterSubmit(t *testing.T) {
	svc, d, _, _, mr := setupTest(t, time.Hour)
	defer mr.Close()

	id := submit(t, d)

	_, err := svc.GetResult(context.Background(), id)

	// Never NotFound for a freshly submitted task.
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestGetResult_UnknownTask(t *testing.T) {
	svc, _, _, _, mr := setupTest(t, time.Hour)
	defer mr.Close()

	_, err := svc.GetResult(context.Background(), "no-such-task")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetResult_TerminalSuccess(t *testing.T) {
	svc, d, q, _, mr := setupTest(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	id := submit(t, d)
	require.NoError(t, q.WriteResult(ctx, id, task.Success("# extracted", 10, 20)))

	res, err := svc.GetResult(ctx, id)
	require.NoError(t, err)

	assert.False(t, res.Failed)
	assert.Equal(t, "# extracted", res.Markdown)
	assert.Equal(t, 10, res.InputTokens)
	assert.Equal(t, 20, res.OutputTokens)
}

func TestGetResult_FailureIsReturnedNotNotReady(t *testing.T) {
	svc, d, q, _, mr := setupTest(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	id := submit(t, d)
	require.NoError(t, q.WriteResult(ctx, id, task.Failure("provider unavailable")))

	res, err := svc.GetResult(ctx, id)
	require.NoError(t, err)

	assert.True(t, res.Failed)
	assert.Equal(t, "provider unavailable", res.Message)
}

func TestGetState_FallsBackToMetadata(t *testing.T) {
	svc, d, q, _, mr := setupTest(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	id := submit(t, d)

	// Task record gone, metadata still present.
	require.NoError(t, q.Remove(ctx, id))

	state, err := svc.GetState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatePending, state)
}

func TestListTasks_MergesLiveStateOverCachedStatus(t *testing.T) {
	svc, d, q, store, mr := setupTest(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	id := submit(t, d)
	require.NoError(t, q.WriteResult(ctx, id, task.Success("# done", 1, 1)))

	entries, err := svc.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, id, entries[0].TaskID)
	assert.Equal(t, string(task.StateSuccess), entries[0].Status)
	assert.Equal(t, "doc.pdf", entries[0].Filename)
	assert.Equal(t, int64(100), entries[0].FileSize)
	assert.Equal(t, "100.0 B", entries[0].FileSizeHuman)

	// The denormalized status cache was refreshed from live state.
	md, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateSuccess, md.Status)
}

func TestListTasks_SynthesizesEntryForAgedMetadata(t *testing.T) {
	svc, d, q, _, mr := setupTest(t, time.Hour)
	defer mr.Close()
	ctx := context.Background()

	id := submit(t, d)

	// Metadata hash lost but the id still tracked: the listing keeps
	// the id with live state rather than dropping it.
	mr.Del("docextract:meta:" + id)

	entries, err := svc.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, id, entries[0].TaskID)
	assert.Equal(t, string(task.StatePending), entries[0].Status)
	assert.Empty(t, entries[0].Filename)

	// And with the task record gone too, the status degrades to
	// unknown instead of an error.
	require.NoError(t, q.Remove(ctx, id))

	entries, err = svc.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "unknown", entries[0].Status)
}

func TestFormatFileSize(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{100, "100.0 B"},
		{2048, "2.0 KB"},
		{10485760, "10.0 MB"},
		{5 << 30, "5.0 GB"},
		{4 << 40, "4096.0 GB"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, formatFileSize(c.size), "size %d", c.size)
	}
}

func TestListTasks_ExpiredTasksAgeOutOfListing(t *testing.T) {
	ttl := time.Hour
	svc, d, _, store, mr := setupTest(t, ttl)
	defer mr.Close()
	ctx := context.Background()

	id := submit(t, d)

	mr.FastForward(ttl + time.Minute)

	entries, err := svc.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	md, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, md)
}

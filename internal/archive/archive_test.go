package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/editsuite/orchestrator/internal/logging"
	"github.com/editsuite/orchestrator/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T, opts ...Option) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.duckdb"), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveFlushAndRecentLogs(t *testing.T) {
	a := openTestArchive(t, WithFlushInterval(time.Hour))
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	a.Append(logging.LogEvent{Sequence: 1, Timestamp: base, Level: "debug", Logger: "orchestrator", Message: "boot"})
	a.Append(logging.LogEvent{Sequence: 2, Timestamp: base.Add(time.Second), Level: "info", Logger: "transcription", Message: "queued", JobID: "j-1", Fields: map[string]string{"position": "1"}})
	a.Append(logging.LogEvent{Sequence: 3, Timestamp: base.Add(2 * time.Second), Level: "error", Logger: "orchestrator", Message: "boom"})

	require.NoError(t, a.Flush(context.Background()))

	all, err := a.RecentLogs(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "boot", all[0].Message)
	assert.Equal(t, "boom", all[2].Message)
	assert.Equal(t, "j-1", all[1].JobID)
	assert.Equal(t, "1", all[1].Fields["position"])
	assert.True(t, all[1].Timestamp.Equal(base.Add(time.Second)))

	infoUp, err := a.RecentLogs(context.Background(), "info", 10)
	require.NoError(t, err)
	require.Len(t, infoUp, 2)
	assert.Equal(t, "queued", infoUp[0].Message)

	latest, err := a.RecentLogs(context.Background(), "", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "boom", latest[0].Message)
}

func TestArchiveFlushesWhenBatchFills(t *testing.T) {
	a := openTestArchive(t, WithBatchSize(2), WithFlushInterval(time.Hour))

	a.Append(logging.LogEvent{Sequence: 1, Timestamp: time.Now(), Level: "info", Logger: "x", Message: "a"})
	a.Append(logging.LogEvent{Sequence: 2, Timestamp: time.Now(), Level: "info", Logger: "x", Message: "b"})

	require.Eventually(t, func() bool {
		events, err := a.RecentLogs(context.Background(), "", 10)
		return err == nil && len(events) == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.NoError(t, a.LastError())
}

func TestArchiveAsHubSink(t *testing.T) {
	a := openTestArchive(t, WithFlushInterval(20*time.Millisecond))
	hub := logging.NewStreamHub(10)
	hub.AddSink(a)

	hub.Publish(logging.LogEvent{Level: "warn", Logger: "runtime", Message: "slow start"})

	require.Eventually(t, func() bool {
		events, err := a.RecentLogs(context.Background(), "warn", 10)
		return err == nil && len(events) == 1 && events[0].Sequence == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestArchiveCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.duckdb")
	a, err := Open(path, nil, WithFlushInterval(time.Hour))
	require.NoError(t, err)

	a.Append(logging.LogEvent{Sequence: 7, Timestamp: time.Now(), Level: "info", Logger: "x", Message: "pending"})
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	events, err := reopened.RecentLogs(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "pending", events[0].Message)
}

func TestArchiveUploads(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, a.RecordUpload(ctx, models.UploadRecord{JobID: "a", FileName: "one.mp4", Size: 10, QueuePosition: 1, SubmittedAt: now.Add(-time.Minute)}))
	require.NoError(t, a.RecordUpload(ctx, models.UploadRecord{JobID: "b", FileName: "two.mp4", Size: 20, QueuePosition: 2, SubmittedAt: now}))

	uploads, err := a.RecentUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "b", uploads[0].JobID)
	assert.Equal(t, int64(20), uploads[0].Size)
	assert.Equal(t, 2, uploads[0].QueuePosition)
	assert.True(t, uploads[0].SubmittedAt.Equal(now))

	limited, err := a.RecentUploads(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestArchiveFlushFailureKeepsEvents(t *testing.T) {
	a := openTestArchive(t, WithFlushInterval(time.Hour), WithBatchSize(10))

	a.Append(logging.LogEvent{Sequence: 1, Level: "info", Message: "first"})
	a.Append(logging.LogEvent{Sequence: 2, Level: "info", Message: "second"})
	require.NoError(t, a.db.Close())

	require.Error(t, a.Flush(context.Background()))

	a.Append(logging.LogEvent{Sequence: 3, Level: "info", Message: "third"})
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.batch, 3)
	assert.Equal(t, "first", a.batch[0].Message)
	assert.Equal(t, "third", a.batch[2].Message)
}

func TestArchiveRequeueCapsBacklog(t *testing.T) {
	a := openTestArchive(t, WithFlushInterval(time.Hour), WithBatchSize(1))

	failed := make([]logging.LogEvent, maxRetainedBatches+5)
	for i := range failed {
		failed[i] = logging.LogEvent{Sequence: uint64(i + 1)}
	}
	a.requeue(failed)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.batch, maxRetainedBatches)
	assert.Equal(t, uint64(6), a.batch[0].Sequence)
}

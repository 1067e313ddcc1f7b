package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	got models.IngestRequest
	err error
}

func (f *fakeIngester) Ingest(_ context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.IngestResult{DocumentID: req.DocumentID, Summary: "done"}, nil
}

func TestNewIngestTask(t *testing.T) {
	req := models.IngestRequest{DocumentID: "d1", UserID: "u1", PageImages: []models.PageImage{{PageNumber: 1, Data: []byte{1, 2}}}}
	task, err := NewIngestTask(req)
	require.NoError(t, err)
	assert.Equal(t, TaskIngest, task.Type())

	var decoded models.IngestRequest
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, req, decoded)

	_, err = NewIngestTask(models.IngestRequest{DocumentID: "d1"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Equal(t, "ingest:u1", TaskID("u1"))
}

func TestProcessIngest(t *testing.T) {
	ctx := context.Background()
	task := func(t *testing.T) *asynq.Task {
		task, err := NewIngestTask(models.IngestRequest{DocumentID: "d1", UserID: "u1"})
		require.NoError(t, err)
		return task
	}

	t.Run("runs the ingestion", func(t *testing.T) {
		ingester := &fakeIngester{}
		require.NoError(t, NewProcessor(ingester).ProcessIngest(ctx, task(t)))
		assert.Equal(t, "d1", ingester.got.DocumentID)
	})

	t.Run("permanent failures skip retries", func(t *testing.T) {
		for _, cause := range []error{models.ErrNoChunks, models.ErrNotFound, models.InvalidInput("bad")} {
			err := NewProcessor(&fakeIngester{err: cause}).ProcessIngest(ctx, task(t))
			assert.ErrorIs(t, err, asynq.SkipRetry)
			assert.ErrorIs(t, err, cause)
		}
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		err := NewProcessor(&fakeIngester{err: errors.New("rate limited")}).ProcessIngest(ctx, task(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("bad payload", func(t *testing.T) {
		err := NewProcessor(&fakeIngester{}).ProcessIngest(ctx, asynq.NewTask(TaskIngest, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

// TestEnqueueIngestConflict needs a scratch Redis in TEST_REDIS_ADDR.
func TestEnqueueIngestConflict(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	cfg := config.QueueConfig{RedisAddr: addr}
	client := NewClient(cfg)
	t.Cleanup(func() {
		_ = client.inspector.DeleteTask(queueName, TaskID("conflict-user"))
		_ = client.Close()
	})

	ctx := context.Background()
	req := models.IngestRequest{DocumentID: "d1", UserID: "conflict-user"}
	id, err := client.EnqueueIngest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, TaskID("conflict-user"), id)

	_, err = client.EnqueueIngest(ctx, req)
	assert.ErrorIs(t, err, models.ErrIngestInProgress)
}

// Package queue runs ingestion in the background. Task IDs are derived from
// the user, so each user has at most one ingestion pending or running.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"manual-rag/internal/config"
	"manual-rag/internal/models"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	TaskIngest = "manual:ingest"

	queueName   = "critical"
	maxRetry    = 3
	taskTimeout = 15 * time.Minute
)

func redisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.Password}
}

// TaskID is the ingestion task ID of a user.
func TaskID(userID string) string {
	return "ingest:" + userID
}

func NewIngestTask(req models.IngestRequest) (*asynq.Task, error) {
	if _, err := models.NewUserScope(req.UserID); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngest,
		payload,
		asynq.TaskID(TaskID(req.UserID)),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(taskTimeout),
		asynq.Queue(queueName),
	), nil
}

// Client enqueues ingestion tasks.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

func NewClient(cfg config.QueueConfig) *Client {
	opt := redisOpt(cfg)
	return &Client{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// EnqueueIngest returns the task ID, or models.ErrIngestInProgress while the
// user's previous task is still pending or running. Finished tasks holding
// the ID are cleared first.
func (c *Client) EnqueueIngest(ctx context.Context, req models.IngestRequest) (string, error) {
	task, err := NewIngestTask(req)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) && c.clearFinished(req.UserID) {
		info, err = c.client.EnqueueContext(ctx, task)
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", fmt.Errorf("user %s: %w", req.UserID, models.ErrIngestInProgress)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue ingest: %w", err)
	}
	log.Info().Str("user_id", req.UserID).Str("document_id", req.DocumentID).Str("task_id", info.ID).Msg("Ingest task enqueued")
	return info.ID, nil
}

// clearFinished deletes the user's archived or completed task so its ID can
// be reused.
func (c *Client) clearFinished(userID string) bool {
	id := TaskID(userID)
	info, err := c.inspector.GetTaskInfo(queueName, id)
	if err != nil {
		return false
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := c.inspector.DeleteTask(queueName, id); err != nil {
			log.Warn().Err(err).Str("task_id", id).Msg("Failed to clear finished task")
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) Close() error {
	if err := c.inspector.Close(); err != nil {
		return err
	}
	return c.client.Close()
}

type Ingester interface {
	Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error)
}

// Processor handles ingestion tasks.
type Processor struct {
	ingester Ingester
}

func NewProcessor(ingester Ingester) *Processor {
	return &Processor{ingester: ingester}
}

// ProcessIngest runs one ingestion. Errors a retry cannot fix skip retries.
func (p *Processor) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var req models.IngestRequest
	if err := json.Unmarshal(t.Payload(), &req); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	res, err := p.ingester.Ingest(ctx, req)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) || errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrNoChunks) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	log.Info().Str("user_id", req.UserID).Str("document_id", res.DocumentID).Msg(res.Summary)
	return nil
}

// NewServer builds the worker server.
func NewServer(cfg config.QueueConfig) *asynq.Server {
	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{queueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			log.Error().Err(err).Str("task", task.Type()).Int("retried", retried).Msg("Task failed")
		}),
	})
}

// NewMux registers the task handlers.
func NewMux(p *Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskIngest, p.ProcessIngest)
	return mux
}

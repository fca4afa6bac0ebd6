package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued means an install for the same cache is still pending.
var ErrAlreadyQueued = errors.New("install already queued")

// Enqueuer hands install work to the worker.
type Enqueuer interface {
	EnqueueInstall(ctx context.Context, p InstallAssetsPayload) (taskID string, err error)
}

// AsynqEnqueuer enqueues install tasks on Redis through asynq.
type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(redisAddr string) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (e *AsynqEnqueuer) Close() error {
	return e.client.Close()
}

// EnqueueInstall queues one install per cache ID at a time. Failed installs
// are retried by asynq with its default backoff.
func (e *AsynqEnqueuer) EnqueueInstall(ctx context.Context, p InstallAssetsPayload) (string, error) {
	task, err := NewInstallTask(p)
	if err != nil {
		return "", err
	}
	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueInstall),
		asynq.MaxRetry(5),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(10*time.Minute),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", ErrAlreadyQueued
	}
	if err != nil {
		return "", fmt.Errorf("enqueue install: %w", err)
	}
	return info.ID, nil
}

// Package jobs defines the background tasks the edge hands to its worker.
package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	TaskInstallAssets = "assets:install"

	QueueInstall = "install"
)

type InstallAssetsPayload struct {
	CacheID      string `json:"cache_id"`
	ManifestPath string `json:"manifest_path,omitempty"`
	RunID        string `json:"run_id,omitempty"`
}

// NewInstallTask wraps p in an asynq task.
func NewInstallTask(p InstallAssetsPayload) (*asynq.Task, error) {
	if p.CacheID == "" {
		return nil, fmt.Errorf("install task: cache id is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal install payload: %w", err)
	}
	return asynq.NewTask(TaskInstallAssets, payload), nil
}

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"nft-upgrade-system/models"
	"nft-upgrade-system/services"
)

// UpgradeWorker consumes queued upgrade jobs with a fixed concurrency bound
// and hands each one to the orchestrator. Queue-level retries only cover the
// initiate step; the mint phase keeps its own retry budget.
type UpgradeWorker struct {
	server         *asynq.Server
	mux            *asynq.ServeMux
	upgradeService *services.NFTUpgradeService
	manager        *services.ConcurrentUpgradeManager
}

func NewUpgradeWorker(redisOpt asynq.RedisClientOpt, upgradeService *services.NFTUpgradeService, manager *services.ConcurrentUpgradeManager, concurrency int) *UpgradeWorker {
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			services.QueueCritical: 6,
			services.QueueDefault:  3,
		},
	})

	w := &UpgradeWorker{
		server:         server,
		mux:            asynq.NewServeMux(),
		upgradeService: upgradeService,
		manager:        manager,
	}
	w.mux.HandleFunc(services.TypeProcessUpgrade, w.handleProcessUpgrade)
	return w
}

func (w *UpgradeWorker) handleProcessUpgrade(ctx context.Context, task *asynq.Task) error {
	var payload services.QueuedUpgradeRequest
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid upgrade job payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("[UpgradeWorker] Processing upgrade job for user %s (request %s)", payload.UserID, payload.RequestID)

	req, err := w.upgradeService.InitiateUpgrade(ctx, payload.UserID, payload.CurrentNFTID, payload.TargetLevel, payload.RequestID)
	if err != nil {
		if ue, ok := models.AsUpgradeError(err); ok && !ue.Retryable {
			// Eligibility failures will not heal on requeue. Free the user's
			// lock so they can submit again.
			if releaseErr := w.manager.ReleaseUserLock(ctx, payload.UserID); releaseErr != nil {
				log.Printf("[UpgradeWorker] Failed to release lock for user %s: %v", payload.UserID, releaseErr)
			}
			return fmt.Errorf("upgrade rejected: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("upgrade job failed for user %s: %w", payload.UserID, err)
	}

	log.Printf("[UpgradeWorker] Upgrade initiated: %s (user %s, level %d)", req.ID, payload.UserID, payload.TargetLevel)
	return nil
}

// Start runs the worker pool without blocking.
func (w *UpgradeWorker) Start() error {
	log.Println("Starting upgrade queue worker...")
	return w.server.Start(w.mux)
}

// Shutdown drains in-flight jobs and stops the pool.
func (w *UpgradeWorker) Shutdown() {
	w.server.Shutdown()
}

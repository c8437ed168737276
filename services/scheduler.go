// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// MaintenanceScheduler runs the periodic sweeps that keep the upgrade
// pipeline healthy: auto-retries, stuck-request recovery, stale SSE
// connections, stale locks and data retention.
type MaintenanceScheduler struct {
	upgradeService *NFTUpgradeService
	manager        *ConcurrentUpgradeManager
	sseManager     *SSEConnectionManager

	sched gocron.Scheduler
}

func NewMaintenanceScheduler(upgradeService *NFTUpgradeService, manager *ConcurrentUpgradeManager, sseManager *SSEConnectionManager) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		upgradeService: upgradeService,
		manager:        manager,
		sseManager:     sseManager,
	}
}

func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.sched = sched

	// Every 30s: retry eligible failed_retryable requests
	_, _ = sched.NewJob(
		gocron.DurationJob(30*time.Second),
		gocron.NewTask(func() {
			s.upgradeService.ProcessAutoRetries(ctx)
		}),
	)

	// Every 5 minutes: recover requests stuck mid-pipeline
	_, _ = sched.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			s.upgradeService.RecoverStuckRequests(ctx)
		}),
	)

	// Every minute: drop SSE connections whose write path died silently
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.sseManager.CleanupStaleConnections()
		}),
	)

	// Every 10 minutes: purge finished queue jobs and damaged locks
	_, _ = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			s.manager.Cleanup(ctx)
		}),
	)

	// Daily: retention sweep over terminal upgrade requests
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			s.upgradeService.CleanupOldRequests()
		}),
	)

	sched.Start()
	log.Println("🗓️ Maintenance scheduler started")
	return nil
}

func (s *MaintenanceScheduler) Shutdown() {
	if s.sched != nil {
		if err := s.sched.Shutdown(); err != nil {
			log.Printf("[Scheduler] Shutdown error: %v", err)
		}
	}
}

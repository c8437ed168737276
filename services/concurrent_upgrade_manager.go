package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nft-upgrade-system/models"
)

const (
	// TypeProcessUpgrade is the asynq task type for queued upgrade jobs.
	TypeProcessUpgrade = "upgrade:process"

	// QueueDefault and QueueCritical split jobs by target level so the
	// highest-tier upgrades are drained first.
	QueueDefault  = "default"
	QueueCritical = "critical"

	lockKeyPrefix = "upgrade_lock:"
)

// DefaultLockTTL covers a full burn+mint cycle. A crashed worker's lock
// expires on its own, so no user can be starved indefinitely.
const DefaultLockTTL = 5 * time.Minute

// releaseLockScript deletes the lock only if the caller still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// DistributedLock is an ephemeral ownership token for one user's upgrade.
type DistributedLock struct {
	Key   string
	Value string
	TTL   time.Duration
}

// QueuedUpgradeRequest is the asynq task payload.
type QueuedUpgradeRequest struct {
	UserID       string `json:"userId"`
	CurrentNFTID string `json:"currentNftId"`
	TargetLevel  int    `json:"targetLevel"`
	RequestID    string `json:"requestId"`
	EnqueuedAt   int64  `json:"enqueuedAt"`
}

// QueueStats is the queue-depth snapshot for the health endpoint.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// ConcurrentUpgradeManager guarantees at most one in-flight upgrade per user
// across every process: a Redis lock gates admission, a row-locked
// re-validation closes the race window behind it, and the asynq task ID
// collapses duplicate submissions into one job.
type ConcurrentUpgradeManager struct {
	redis       *redis.Client
	db          *gorm.DB
	queueClient *asynq.Client
	inspector   *asynq.Inspector
	lockTTL     time.Duration
}

func NewConcurrentUpgradeManager(redisClient *redis.Client, db *gorm.DB, redisOpt asynq.RedisClientOpt) *ConcurrentUpgradeManager {
	return &ConcurrentUpgradeManager{
		redis:       redisClient,
		db:          db,
		queueClient: asynq.NewClient(redisOpt),
		inspector:   asynq.NewInspector(redisOpt),
		lockTTL:     DefaultLockTTL,
	}
}

// InitiateUpgradeWithConcurrencyControl admits an upgrade submission:
// lock, row-locked validation, enqueue. Returns the request id immediately;
// progress is observed over SSE.
func (m *ConcurrentUpgradeManager) InitiateUpgradeWithConcurrencyControl(ctx context.Context, userID, currentNFTID string, targetLevel int) (string, error) {
	requestID := uuid.NewString()

	lock, err := m.AcquireUserUpgradeLock(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to acquire upgrade lock: %w", err)
	}
	if lock == nil {
		ttl, _ := m.LockTTLRemaining(ctx, userID)
		log.Printf("[ConcurrentUpgradeManager] User %s already locked (ttl %s)", userID, ttl)
		return "", models.NewUpgradeError(
			models.ErrTypeAlreadyInProgress,
			"user already has an active upgrade process, please wait for it to complete",
			false,
		)
	}

	if err := m.validateEligibilityWithLocking(userID, currentNFTID, targetLevel); err != nil {
		if _, releaseErr := m.ReleaseUserUpgradeLock(ctx, userID, lock); releaseErr != nil {
			log.Printf("[ConcurrentUpgradeManager] Failed to release lock for user %s: %v", userID, releaseErr)
		}
		return "", err
	}

	if err := m.enqueueUpgradeRequest(ctx, QueuedUpgradeRequest{
		UserID:       userID,
		CurrentNFTID: currentNFTID,
		TargetLevel:  targetLevel,
		RequestID:    requestID,
		EnqueuedAt:   time.Now().Unix(),
	}); err != nil {
		if _, releaseErr := m.ReleaseUserUpgradeLock(ctx, userID, lock); releaseErr != nil {
			log.Printf("[ConcurrentUpgradeManager] Failed to release lock for user %s: %v", userID, releaseErr)
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", models.NewUpgradeError(
				models.ErrTypeAlreadyInProgress,
				"an upgrade job is already queued for this user",
				false,
			)
		}
		return "", fmt.Errorf("failed to enqueue upgrade: %w", err)
	}

	// The lock stays held through the burn+mint cycle; the orchestrator
	// releases it when the request reaches an outcome.
	log.Printf("[ConcurrentUpgradeManager] Upgrade queued for user %s: %s", userID, requestID)
	return requestID, nil
}

// AcquireUserUpgradeLock takes the per-user lock with SET NX EX. Returns nil
// without error when another holder has it.
func (m *ConcurrentUpgradeManager) AcquireUserUpgradeLock(ctx context.Context, userID string) (*DistributedLock, error) {
	key := lockKeyPrefix + userID
	value := uuid.NewString()

	ok, err := m.redis.SetNX(ctx, key, value, m.lockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &DistributedLock{Key: key, Value: value, TTL: m.lockTTL}, nil
}

// ReleaseUserUpgradeLock releases a held lock with an atomic
// compare-and-delete, so an expired-and-reacquired lock is never stolen.
func (m *ConcurrentUpgradeManager) ReleaseUserUpgradeLock(ctx context.Context, userID string, lock *DistributedLock) (bool, error) {
	released, err := releaseLockScript.Run(ctx, m.redis, []string{lock.Key}, lock.Value).Int()
	if err != nil {
		return false, err
	}
	return released == 1, nil
}

// AcquireUserLock implements UserLockStore for the orchestrator's retry
// path. The proof value stays in Redis; release goes through ReleaseUserLock.
func (m *ConcurrentUpgradeManager) AcquireUserLock(ctx context.Context, userID string) (bool, error) {
	lock, err := m.AcquireUserUpgradeLock(ctx, userID)
	if err != nil {
		return false, err
	}
	return lock != nil, nil
}

// ReleaseUserLock releases whatever lock currently guards the user, looking
// the proof value up first. Used when the holder of record is the pipeline
// itself rather than a single call frame.
func (m *ConcurrentUpgradeManager) ReleaseUserLock(ctx context.Context, userID string) error {
	key := lockKeyPrefix + userID
	value, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil // already expired or released
	}
	if err != nil {
		return err
	}
	_, err = m.ReleaseUserUpgradeLock(ctx, userID, &DistributedLock{Key: key, Value: value})
	return err
}

// LockTTLRemaining reports how long the user's lock has left to live.
func (m *ConcurrentUpgradeManager) LockTTLRemaining(ctx context.Context, userID string) (time.Duration, error) {
	return m.redis.TTL(ctx, lockKeyPrefix+userID).Result()
}

// validateEligibilityWithLocking re-validates under FOR UPDATE row locks.
// The Redis lock closes most of the race window; this closes the rest.
func (m *ConcurrentUpgradeManager) validateEligibilityWithLocking(userID, currentNFTID string, targetLevel int) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		var active []models.UpgradeRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status IN ?", userID, models.ActiveStatuses()).
			Limit(10).
			Find(&active).Error; err != nil {
			return err
		}
		if len(active) > 0 {
			return models.NewUpgradeError(
				models.ErrTypeAlreadyInProgress,
				fmt.Sprintf("user has %d active upgrade request(s)", len(active)),
				false,
			)
		}

		var nft models.UserNFT
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ? AND status = ?", currentNFTID, userID, models.NFTStatusActive).
			First(&nft).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewUpgradeError(
					models.ErrTypeInvalidState,
					"NFT not found, not owned by user, or not in active status",
					false,
				)
			}
			return err
		}

		if targetLevel <= nft.Level || targetLevel > models.MaxNFTLevel {
			return models.NewUpgradeError(
				models.ErrTypeInvalidState,
				fmt.Sprintf("invalid target level %d for current NFT level %d", targetLevel, nft.Level),
				false,
			)
		}

		var activatedBadges []models.UserBadge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status = ?", userID, models.BadgeStatusActivated).
			Limit(10).
			Find(&activatedBadges).Error; err != nil {
			return err
		}
		required := models.RequiredBadgeCount(targetLevel)
		if len(activatedBadges) < required {
			return models.NewUpgradeError(
				models.ErrTypeQualificationFailed,
				fmt.Sprintf("insufficient activated badges: %d/%d", len(activatedBadges), required),
				false,
			)
		}
		return nil
	})
}

func (m *ConcurrentUpgradeManager) enqueueUpgradeRequest(ctx context.Context, payload QueuedUpgradeRequest) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// The task ID is derived from the user id: a duplicate submission before
	// the first job starts collapses into the existing job.
	task := asynq.NewTask(TypeProcessUpgrade, data)
	_, err = m.queueClient.EnqueueContext(ctx, task,
		asynq.TaskID("upgrade-"+payload.UserID),
		asynq.Queue(queueForLevel(payload.TargetLevel)),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Retention(1*time.Hour),
	)
	return err
}

func queueForLevel(targetLevel int) string {
	if targetLevel >= models.MaxNFTLevel {
		return QueueCritical
	}
	return QueueDefault
}

// GetQueueStats aggregates queue depth across both priority queues.
func (m *ConcurrentUpgradeManager) GetQueueStats() (QueueStats, error) {
	var stats QueueStats
	for _, qname := range []string{QueueCritical, QueueDefault} {
		info, err := m.inspector.GetQueueInfo(qname)
		if err != nil {
			// A queue that has never seen a task does not exist yet.
			continue
		}
		stats.Waiting += info.Pending
		stats.Active += info.Active
		stats.Completed += info.Completed
		stats.Failed += info.Archived
		stats.Delayed += info.Scheduled + info.Retry
	}
	return stats, nil
}

// CleanupStaleLocks deletes locks left without an expiry. SET NX EX always
// attaches one, so a key with ttl == -1 is damage from a partial write.
func (m *ConcurrentUpgradeManager) CleanupStaleLocks(ctx context.Context) {
	iter := m.redis.Scan(ctx, 0, lockKeyPrefix+"*", 100).Iterator()
	cleaned := 0
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := m.redis.TTL(ctx, key).Result()
		if err != nil {
			continue
		}
		if ttl < 0 {
			if err := m.redis.Del(ctx, key).Err(); err == nil {
				cleaned++
				log.Printf("[ConcurrentUpgradeManager] Cleaned up stale lock: %s", key)
			}
		}
	}
	if err := iter.Err(); err != nil {
		log.Printf("[ConcurrentUpgradeManager] ❌ Lock scan failed: %v", err)
	}
	if cleaned > 0 {
		log.Printf("[ConcurrentUpgradeManager] Removed %d stale lock(s)", cleaned)
	}
}

// Cleanup purges finished job records past retention and stale locks.
func (m *ConcurrentUpgradeManager) Cleanup(ctx context.Context) {
	for _, qname := range []string{QueueCritical, QueueDefault} {
		if n, err := m.inspector.DeleteAllCompletedTasks(qname); err == nil && n > 0 {
			log.Printf("[ConcurrentUpgradeManager] Purged %d completed job(s) from %s", n, qname)
		}
		if n, err := m.inspector.DeleteAllArchivedTasks(qname); err == nil && n > 0 {
			log.Printf("[ConcurrentUpgradeManager] Purged %d failed job(s) from %s", n, qname)
		}
	}
	m.CleanupStaleLocks(ctx)
}

// Shutdown closes the queue client.
func (m *ConcurrentUpgradeManager) Shutdown() error {
	return m.queueClient.Close()
}

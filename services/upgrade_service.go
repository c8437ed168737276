package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"nft-upgrade-system/models"
)

// UserLockStore is the slice of the concurrency controller the orchestrator
// needs: re-acquiring a user's lock before a retry and releasing it once the
// request reaches an outcome.
type UserLockStore interface {
	AcquireUserLock(ctx context.Context, userID string) (bool, error)
	ReleaseUserLock(ctx context.Context, userID string) error
}

// UpgradeServiceConfig tunes the orchestrator.
type UpgradeServiceConfig struct {
	MaxRetries          int
	ConfirmationTimeout time.Duration // bound on each ledger call
	AutoRetryCooldown   time.Duration // how long a failed_retryable request rests before auto-retry
	StuckTimeout        time.Duration // how long burn_confirmed/mint_pending may sit before recovery
	RetentionMaxAge     time.Duration
}

func DefaultUpgradeServiceConfig() UpgradeServiceConfig {
	return UpgradeServiceConfig{
		MaxRetries:          3,
		ConfirmationTimeout: 10 * time.Minute,
		AutoRetryCooldown:   5 * time.Second,
		StuckTimeout:        30 * time.Minute,
		RetentionMaxAge:     7 * 24 * time.Hour,
	}
}

// NFTUpgradeService drives a single upgrade request through the burn-then-
// mint saga: burn is verified exactly once and never retried; the mint phase
// is the only re-entrant part. Every transition is persisted and pushed to
// subscribers before the next step runs.
type NFTUpgradeService struct {
	sseManager *SSEConnectionManager
	events     EventPublisher
	ledger     LedgerService
	badges     QualificationService
	nfts       AssetService
	repo       models.UpgradeRequestRepository
	locks      UserLockStore
	config     UpgradeServiceConfig
}

func NewNFTUpgradeService(
	sseManager *SSEConnectionManager,
	events EventPublisher,
	ledger LedgerService,
	badges QualificationService,
	nfts AssetService,
	repo models.UpgradeRequestRepository,
	locks UserLockStore,
	config UpgradeServiceConfig,
) *NFTUpgradeService {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.ConfirmationTimeout <= 0 {
		config.ConfirmationTimeout = 10 * time.Minute
	}
	return &NFTUpgradeService{
		sseManager: sseManager,
		events:     events,
		ledger:     ledger,
		badges:     badges,
		nfts:       nfts,
		repo:       repo,
		locks:      locks,
		config:     config,
	}
}

// InitiateUpgrade validates eligibility, creates the request and tells the
// subscriber to burn the source NFT client-side. requestID may be empty, in
// which case the database assigns one.
func (s *NFTUpgradeService) InitiateUpgrade(ctx context.Context, userID, currentNFTID string, targetLevel int, requestID string) (*models.UpgradeRequest, error) {
	if err := s.validateEligibility(userID, currentNFTID, targetLevel); err != nil {
		return nil, err
	}

	activated, err := s.badges.GetActivatedBadges(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load activated badges: %w", err)
	}
	required := models.RequiredBadgeCount(targetLevel)
	if len(activated) < required {
		return nil, models.NewUpgradeError(
			models.ErrTypeQualificationFailed,
			fmt.Sprintf("insufficient activated badges: %d/%d", len(activated), required),
			false,
		)
	}

	// Reserve exactly the required badges, oldest first. They are consumed
	// only when the request completes.
	reserved := make([]string, 0, required)
	for _, b := range activated[:required] {
		reserved = append(reserved, b.ID)
	}

	req := &models.UpgradeRequest{
		ID:                requestID,
		UserID:            userID,
		CurrentNFTID:      currentNFTID,
		TargetLevel:       targetLevel,
		Status:            models.StatusInitiated,
		MaxRetries:        s.config.MaxRetries,
		ActivatedBadgeIDs: reserved,
	}
	if err := s.repo.Create(req); err != nil {
		return nil, fmt.Errorf("failed to create upgrade request: %w", err)
	}

	s.addHistory(req.ID, models.StatusInitiated, "Upgrade initiated.")

	// The burn transaction is client-signed; advance to burn_pending so the
	// request waits for the wallet to report the burn hash.
	burnPending := models.StatusBurnPending
	req, err = s.repo.Update(req.ID, models.UpdateUpgradeRequestData{Status: &burnPending})
	if err != nil {
		return nil, fmt.Errorf("failed to advance request to burn_pending: %w", err)
	}
	s.addHistory(req.ID, models.StatusBurnPending, "Waiting for burn transaction. Please connect your wallet to burn your current NFT.")

	s.sendStatusUpdate(req, "upgrade_initiated", "Upgrade initiated. Please connect your wallet to burn your current NFT.", map[string]interface{}{
		"targetLevel":     targetLevel,
		"requiredBadges":  required,
		"activatedBadges": len(activated),
	})
	s.events.Publish(ctx, EventUpgradeInitiated, userID, map[string]interface{}{
		"upgradeRequestId": req.ID,
		"userId":           userID,
		"currentNftId":     currentNFTID,
		"targetLevel":      targetLevel,
	})

	log.Printf("[UpgradeService] Upgrade %s initiated for user %s (level %d)", req.ID, userID, targetLevel)
	return req, nil
}

// HandleBurnConfirmation verifies the client's burn transaction and, on
// success, pipelines straight into the mint phase. Verification failure is
// retryable and leaves the request in burn_pending so the client can resend
// a corrected hash.
func (s *NFTUpgradeService) HandleBurnConfirmation(ctx context.Context, requestID, burnTxHash string) error {
	req, err := s.GetUpgradeRequest(requestID)
	if err != nil {
		return err
	}

	if !models.CanTransition(req.Status, models.StatusBurnConfirmed) {
		return models.NewUpgradeError(
			models.ErrTypeInvalidState,
			fmt.Sprintf("cannot confirm burn from status %s", req.Status),
			false,
		)
	}

	// A burn transaction destroys exactly one token; a hash already claimed
	// by another request can never verify for this one.
	claimed, err := s.repo.FindByBurnHash(burnTxHash)
	if err != nil {
		return fmt.Errorf("failed to check burn transaction hash: %w", err)
	}
	if claimed != nil && claimed.ID != req.ID {
		return models.NewUpgradeError(
			models.ErrTypeBurnVerificationFailed,
			"burn transaction already claimed by another upgrade request",
			false,
		)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.config.ConfirmationTimeout)
	defer cancel()
	verified, err := s.ledger.VerifyBurn(verifyCtx, burnTxHash, req.CurrentNFTID)
	if err != nil {
		return &models.UpgradeError{
			Type:             models.ErrTypeBurnVerificationFailed,
			Message:          "burn transaction verification failed",
			UpgradeRequestID: requestID,
			Retryable:        true,
			Err:              err,
		}
	}
	if !verified {
		return models.NewUpgradeError(
			models.ErrTypeBurnVerificationFailed,
			"burn transaction did not burn the expected NFT",
			true,
		)
	}

	burnConfirmed := models.StatusBurnConfirmed
	req, err = s.repo.Update(requestID, models.UpdateUpgradeRequestData{
		Status:              &burnConfirmed,
		BurnTransactionHash: &burnTxHash,
	})
	if err != nil {
		return fmt.Errorf("failed to persist burn confirmation: %w", err)
	}

	s.addHistory(requestID, models.StatusBurnConfirmed, "Burn confirmed. Minting new NFT...")
	s.sendStatusUpdate(req, "burn_confirmed", "Burn confirmed. Minting new NFT...", map[string]interface{}{
		"burnTransactionHash": burnTxHash,
	})

	// Burn and mint are pipelined: the client never triggers the mint.
	s.processMint(ctx, req)
	return nil
}

// RetryUpgrade re-enters the mint phase of a failed-but-retryable request.
// The burn is never re-attempted: the source NFT no longer exists.
func (s *NFTUpgradeService) RetryUpgrade(ctx context.Context, requestID string) error {
	req, err := s.GetUpgradeRequest(requestID)
	if err != nil {
		return err
	}

	if !s.CanRetry(req) {
		return models.NewUpgradeError(
			models.ErrTypeInvalidState,
			"upgrade request cannot be retried",
			false,
		)
	}

	// Re-acquire the user lock so a manual retry cannot race the auto-retry
	// sweep or a concurrent submission.
	if s.locks != nil {
		acquired, err := s.locks.AcquireUserLock(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to acquire user lock for retry: %w", err)
		}
		if !acquired {
			return models.NewUpgradeError(
				models.ErrTypeAlreadyInProgress,
				"another upgrade operation is in progress for this user",
				false,
			)
		}
	}

	userID := req.UserID
	retryCount := req.RetryCount + 1
	mintPending := models.StatusMintPending
	req, err = s.repo.Update(requestID, models.UpdateUpgradeRequestData{
		Status:     &mintPending,
		RetryCount: &retryCount,
	})
	if err != nil {
		s.releaseUserLock(ctx, &models.UpgradeRequest{UserID: userID})
		return fmt.Errorf("failed to persist retry: %w", err)
	}

	msg := fmt.Sprintf("Retrying NFT mint (attempt %d/%d)...", req.RetryCount, req.MaxRetries)
	s.addHistory(requestID, models.StatusMintPending, msg)
	s.sendStatusUpdate(req, "retry_started", msg, map[string]interface{}{
		"retryCount": req.RetryCount,
		"maxRetries": req.MaxRetries,
	})

	s.processMint(ctx, req)
	return nil
}

// processMint drives the mint phase to an outcome. All failure paths are
// captured, classified and persisted here; nothing escapes unlogged.
func (s *NFTUpgradeService) processMint(ctx context.Context, req *models.UpgradeRequest) {
	if req.Status != models.StatusMintPending {
		mintPending := models.StatusMintPending
		updated, err := s.repo.Update(req.ID, models.UpdateUpgradeRequestData{Status: &mintPending})
		if err != nil {
			s.handleMintFailure(ctx, req, fmt.Errorf("failed to enter mint phase: %w", err))
			return
		}
		req = updated
		s.addHistory(req.ID, models.StatusMintPending, "Minting new NFT on the ledger...")
	}
	s.sendStatusUpdate(req, "mint_started", "Minting new NFT on the ledger...", map[string]interface{}{
		"targetLevel": req.TargetLevel,
	})

	mintCtx, cancelMint := context.WithTimeout(ctx, s.config.ConfirmationTimeout)
	mintTxHash, err := s.ledger.Mint(mintCtx, req.UserID, req.TargetLevel)
	cancelMint()
	if err != nil {
		s.handleMintFailure(ctx, req, err)
		return
	}

	confirmCtx, cancelConfirm := context.WithTimeout(ctx, s.config.ConfirmationTimeout)
	confirmed, err := s.ledger.ConfirmTransaction(confirmCtx, mintTxHash)
	cancelConfirm()
	if err != nil {
		s.handleMintFailure(ctx, req, err)
		return
	}
	if !confirmed {
		s.handleMintFailure(ctx, req, models.NewUpgradeError(
			models.ErrTypeMintConfirmationTimeout,
			"mint transaction confirmation timeout",
			true,
		))
		return
	}

	s.completeUpgrade(ctx, req, mintTxHash)
}

func (s *NFTUpgradeService) completeUpgrade(ctx context.Context, req *models.UpgradeRequest, mintTxHash string) {
	completed := models.StatusCompleted
	updated, err := s.repo.Update(req.ID, models.UpdateUpgradeRequestData{
		Status:              &completed,
		MintTransactionHash: &mintTxHash,
	})
	if err != nil {
		s.handleMintFailure(ctx, req, fmt.Errorf("failed to persist completion: %w", err))
		return
	}
	req = updated

	if err := s.nfts.RecordUpgrade(UpgradeRecord{
		UserID:              req.UserID,
		OldNFTID:            req.CurrentNFTID,
		NewLevel:            req.TargetLevel,
		MintTransactionHash: mintTxHash,
		UpgradeRequestID:    req.ID,
	}); err != nil {
		log.Printf("[UpgradeService] ❌ Failed to record upgrade %s in asset service: %v", req.ID, err)
	}

	// Badges are consumed only here. An upgrade that failed before mint left
	// them intact for a retry or a different request.
	if err := s.badges.ConsumeBadges(req.ActivatedBadgeIDs, req.ID); err != nil {
		log.Printf("[UpgradeService] ❌ Failed to consume badges for upgrade %s: %v", req.ID, err)
	}

	s.addHistory(req.ID, models.StatusCompleted, "Upgrade completed successfully! Your new NFT is ready.")
	s.sendStatusUpdate(req, "upgrade_completed", "Upgrade completed successfully! Your new NFT is ready.", map[string]interface{}{
		"mintTransactionHash": mintTxHash,
		"newLevel":            req.TargetLevel,
		"consumedBadges":      len(req.ActivatedBadgeIDs),
	})
	s.events.Publish(ctx, EventUpgradeCompleted, req.UserID, map[string]interface{}{
		"upgradeRequestId":    req.ID,
		"userId":              req.UserID,
		"targetLevel":         req.TargetLevel,
		"mintTransactionHash": mintTxHash,
		"burnTransactionHash": req.BurnTransactionHash,
		"consumedBadgeIds":    req.ActivatedBadgeIDs,
	})

	s.releaseUserLock(ctx, req)
	log.Printf("[UpgradeService] ✅ Upgrade %s completed for user %s (level %d)", req.ID, req.UserID, req.TargetLevel)
}

func (s *NFTUpgradeService) handleMintFailure(ctx context.Context, req *models.UpgradeRequest, cause error) {
	errType := models.ClassifyError(cause)
	budgetLeft := req.RetryCount < req.MaxRetries
	isRetryable := budgetLeft && models.IsErrorTypeRetryable(errType)

	newStatus := models.StatusFailedPermanent
	if isRetryable {
		newStatus = models.StatusFailedRetryable
	}

	errorDetails := cause.Error()
	if _, err := s.repo.Update(req.ID, models.UpdateUpgradeRequestData{
		Status:       &newStatus,
		ErrorDetails: &errorDetails,
		IsRetryable:  &isRetryable,
	}); err != nil {
		log.Printf("[UpgradeService] ❌ Failed to persist mint failure for %s: %v", req.ID, err)
	}

	var msg string
	if isRetryable {
		msg = fmt.Sprintf("Mint failed but can be retried. Error: %s", errorDetails)
	} else {
		msg = fmt.Sprintf("Mint failed permanently. Error: %s", errorDetails)
	}
	s.addHistory(req.ID, newStatus, msg)

	updateType := "mint_failed_permanent"
	if isRetryable {
		updateType = "mint_failed_retryable"
	}
	req.Status = newStatus
	s.sendStatusUpdate(req, updateType, msg, map[string]interface{}{
		"errorType":  string(errType),
		"retryCount": req.RetryCount,
		"maxRetries": req.MaxRetries,
		"canRetry":   isRetryable,
	})
	s.events.Publish(ctx, EventUpgradeFailed, req.UserID, map[string]interface{}{
		"upgradeRequestId": req.ID,
		"userId":           req.UserID,
		"errorType":        string(errType),
		"errorMessage":     errorDetails,
		"retryable":        isRetryable,
		"retryCount":       req.RetryCount,
	})

	s.releaseUserLock(ctx, req)
	log.Printf("[UpgradeService] ❌ Upgrade %s failed (%s, retryable=%t): %v", req.ID, errType, isRetryable, cause)
}

// CanRetry reports whether the request is eligible for a mint retry.
func (s *NFTUpgradeService) CanRetry(req *models.UpgradeRequest) bool {
	return models.IsRetryableStatus(req.Status) &&
		req.RetryCount < req.MaxRetries &&
		req.BurnTransactionHash != "" &&
		req.IsRetryable
}

// GetUpgradeRequest loads a request or fails with an invalid-state error.
func (s *NFTUpgradeService) GetUpgradeRequest(id string) (*models.UpgradeRequest, error) {
	req, err := s.repo.FindByID(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load upgrade request: %w", err)
	}
	if req == nil {
		return nil, models.NewUpgradeError(models.ErrTypeInvalidState, "upgrade request not found", false)
	}
	return req, nil
}

func (s *NFTUpgradeService) GetStatusHistory(requestID string) ([]models.UpgradeStatusHistory, error) {
	return s.repo.GetStatusHistory(requestID)
}

func (s *NFTUpgradeService) GetUserUpgradeRequests(userID string, status models.UpgradeStatus) ([]models.UpgradeRequest, error) {
	return s.repo.FindByUserID(userID, status)
}

// ProcessAutoRetries retries eligible failed_retryable requests older than
// the cooldown, serializing attempts so the ledger is not hammered.
func (s *NFTUpgradeService) ProcessAutoRetries(ctx context.Context) {
	requests, err := s.repo.FindRetryableRequests(s.config.AutoRetryCooldown)
	if err != nil {
		log.Printf("[UpgradeService] ❌ Auto-retry scan failed: %v", err)
		return
	}
	if len(requests) == 0 {
		return
	}
	log.Printf("[UpgradeService] Processing %d auto-retry request(s)", len(requests))

	for _, req := range requests {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		if err := s.RetryUpgrade(ctx, req.ID); err != nil {
			log.Printf("[UpgradeService] Auto-retry failed for upgrade %s: %v", req.ID, err)
		}
	}
}

// RecoverStuckRequests promotes requests parked in burn_confirmed or
// mint_pending past the stuck timeout to failed_retryable (or permanent if
// the budget is spent) so the auto-retry sweep can pick them up. Covers a
// worker crash between burn confirmation and mint completion.
func (s *NFTUpgradeService) RecoverStuckRequests(ctx context.Context) {
	requests, err := s.repo.FindStuckRequests(s.config.StuckTimeout)
	if err != nil {
		log.Printf("[UpgradeService] ❌ Stuck-request scan failed: %v", err)
		return
	}

	for _, req := range requests {
		newStatus := models.StatusFailedRetryable
		isRetryable := true
		if req.RetryCount >= req.MaxRetries {
			newStatus = models.StatusFailedPermanent
			isRetryable = false
		}
		errorDetails := fmt.Sprintf("recovered from stuck status %s after %s", req.Status, s.config.StuckTimeout)

		updated, err := s.repo.Update(req.ID, models.UpdateUpgradeRequestData{
			Status:       &newStatus,
			ErrorDetails: &errorDetails,
			IsRetryable:  &isRetryable,
		})
		if err != nil {
			log.Printf("[UpgradeService] ❌ Failed to recover stuck upgrade %s: %v", req.ID, err)
			continue
		}
		s.addHistory(req.ID, newStatus, errorDetails)
		s.sendStatusUpdate(updated, "recovered_stuck", errorDetails, map[string]interface{}{
			"canRetry": isRetryable,
		})
		s.releaseUserLock(ctx, updated)
		log.Printf("[UpgradeService] Recovered stuck upgrade %s -> %s", req.ID, newStatus)
	}
}

// CleanupOldRequests is the retention sweep over terminal requests.
func (s *NFTUpgradeService) CleanupOldRequests() {
	removed, err := s.repo.CleanupOldRequests(s.config.RetentionMaxAge)
	if err != nil {
		log.Printf("[UpgradeService] ❌ Retention sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[UpgradeService] Retention sweep removed %d old request(s)", removed)
	}
}

func (s *NFTUpgradeService) validateEligibility(userID, currentNFTID string, targetLevel int) error {
	owns, err := s.nfts.VerifyOwnership(userID, currentNFTID)
	if err != nil {
		return fmt.Errorf("failed to verify NFT ownership: %w", err)
	}
	if !owns {
		return models.NewUpgradeError(
			models.ErrTypeInvalidState,
			"NFT not found, not owned by user, or not in active status",
			false,
		)
	}

	existing, err := s.repo.FindByUserID(userID, "")
	if err != nil {
		return fmt.Errorf("failed to check active upgrades: %w", err)
	}
	for _, r := range existing {
		if !models.IsTerminalStatus(r.Status) {
			return models.NewUpgradeError(
				models.ErrTypeAlreadyInProgress,
				"user already has an active upgrade request",
				false,
			)
		}
	}

	currentLevel, err := s.nfts.GetNFTLevel(currentNFTID)
	if err != nil {
		return fmt.Errorf("failed to look up NFT level: %w", err)
	}
	if targetLevel <= currentLevel || targetLevel > models.MaxNFTLevel {
		return models.NewUpgradeError(
			models.ErrTypeInvalidState,
			fmt.Sprintf("invalid target level %d for current level %d", targetLevel, currentLevel),
			false,
		)
	}
	return nil
}

func (s *NFTUpgradeService) sendStatusUpdate(req *models.UpgradeRequest, updateType, message string, data map[string]interface{}) {
	s.sseManager.BroadcastToUser(req.UserID, SSEMessage{
		Type:             updateType,
		UpgradeRequestID: req.ID,
		Status:           req.Status,
		Message:          message,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Data:             data,
	})
}

func (s *NFTUpgradeService) addHistory(requestID string, status models.UpgradeStatus, message string) {
	if err := s.repo.AddStatusHistory(requestID, status, message); err != nil {
		log.Printf("[UpgradeService] ❌ Failed to append status history for %s: %v", requestID, err)
	}
}

func (s *NFTUpgradeService) releaseUserLock(ctx context.Context, req *models.UpgradeRequest) {
	if s.locks == nil {
		return
	}
	if err := s.locks.ReleaseUserLock(ctx, req.UserID); err != nil {
		log.Printf("[UpgradeService] Failed to release lock for user %s: %v", req.UserID, err)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nft-upgrade-system/models"
)

// fakeRepo is an in-memory UpgradeRequestRepository.
type fakeRepo struct {
	mu       sync.Mutex
	seq      int
	requests map[string]*models.UpgradeRequest
	history  map[string][]models.UpgradeStatusHistory

	updateErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests: make(map[string]*models.UpgradeRequest),
		history:  make(map[string][]models.UpgradeStatusHistory),
	}
}

func (r *fakeRepo) Create(req *models.UpgradeRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == "" {
		r.seq++
		req.ID = fmt.Sprintf("req-%d", r.seq)
	}
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *fakeRepo) FindByID(id string) (*models.UpgradeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (r *fakeRepo) FindByUserID(userID string, status models.UpgradeStatus) ([]models.UpgradeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UpgradeRequest
	for _, req := range r.requests {
		if req.UserID != userID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, *req)
	}
	return out, nil
}

func (r *fakeRepo) FindByBurnHash(hash string) (*models.UpgradeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.BurnTransactionHash == hash {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) Update(id string, data models.UpdateUpgradeRequestData) (*models.UpgradeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return nil, r.updateErr
	}
	req, ok := r.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s not found", id)
	}
	if data.Status != nil {
		req.Status = *data.Status
	}
	if data.BurnTransactionHash != nil {
		req.BurnTransactionHash = *data.BurnTransactionHash
	}
	if data.MintTransactionHash != nil {
		req.MintTransactionHash = *data.MintTransactionHash
	}
	if data.RetryCount != nil {
		req.RetryCount = *data.RetryCount
	}
	if data.ErrorDetails != nil {
		req.ErrorDetails = *data.ErrorDetails
	}
	if data.IsRetryable != nil {
		req.IsRetryable = *data.IsRetryable
	}
	req.UpdatedAt = time.Now()
	cp := *req
	return &cp, nil
}

func (r *fakeRepo) AddStatusHistory(id string, status models.UpgradeStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[id] = append(r.history[id], models.UpgradeStatusHistory{
		UpgradeRequestID: id,
		Status:           status,
		Message:          message,
		CreatedAt:        time.Now(),
	})
	return nil
}

func (r *fakeRepo) GetStatusHistory(id string) ([]models.UpgradeStatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.UpgradeStatusHistory(nil), r.history[id]...), nil
}

func (r *fakeRepo) FindRetryableRequests(olderThan time.Duration) ([]models.UpgradeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UpgradeRequest
	for _, req := range r.requests {
		if req.Status == models.StatusFailedRetryable && req.IsRetryable && req.RetryCount < req.MaxRetries {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindStuckRequests(cutoff time.Duration) ([]models.UpgradeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UpgradeRequest
	for _, req := range r.requests {
		if req.Status == models.StatusBurnConfirmed || req.Status == models.StatusMintPending {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (r *fakeRepo) CleanupOldRequests(maxAge time.Duration) (int64, error) {
	return 0, nil
}

// fakeLedger drives burn/mint outcomes with func fields.
type fakeLedger struct {
	verifyBurn func(ctx context.Context, txHash, nftID string) (bool, error)
	mint       func(ctx context.Context, userID string, level int) (string, error)
	confirm    func(ctx context.Context, txHash string) (bool, error)
}

func (l *fakeLedger) VerifyBurn(ctx context.Context, txHash, nftID string) (bool, error) {
	return l.verifyBurn(ctx, txHash, nftID)
}

func (l *fakeLedger) Mint(ctx context.Context, userID string, level int) (string, error) {
	return l.mint(ctx, userID, level)
}

func (l *fakeLedger) ConfirmTransaction(ctx context.Context, txHash string) (bool, error) {
	return l.confirm(ctx, txHash)
}

func happyLedger() *fakeLedger {
	return &fakeLedger{
		verifyBurn: func(context.Context, string, string) (bool, error) { return true, nil },
		mint:       func(context.Context, string, int) (string, error) { return "mint-tx-1", nil },
		confirm:    func(context.Context, string) (bool, error) { return true, nil },
	}
}

// fakeBadges holds a fixed set of activated badges and records consumption.
type fakeBadges struct {
	activated []models.UserBadge
	consumed  []string
}

func (b *fakeBadges) GetActivatedBadges(userID string) ([]models.UserBadge, error) {
	return b.activated, nil
}

func (b *fakeBadges) ConsumeBadges(badgeIDs []string, upgradeRequestID string) error {
	b.consumed = append(b.consumed, badgeIDs...)
	return nil
}

// fakeAssets owns one NFT and records upgrades.
type fakeAssets struct {
	ownerID  string
	nftID    string
	level    int
	recorded []UpgradeRecord
}

func (a *fakeAssets) VerifyOwnership(userID, nftID string) (bool, error) {
	return userID == a.ownerID && nftID == a.nftID, nil
}

func (a *fakeAssets) GetNFTLevel(nftID string) (int, error) {
	return a.level, nil
}

func (a *fakeAssets) RecordUpgrade(rec UpgradeRecord) error {
	a.recorded = append(a.recorded, rec)
	return nil
}

// fakeEvents records published lifecycle events.
type fakeEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *fakeEvents) Publish(ctx context.Context, eventType, key string, payload map[string]interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, eventType)
}

func (e *fakeEvents) published() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

// fakeLocks counts acquisitions and releases.
type fakeLocks struct {
	mu       sync.Mutex
	held     bool
	acquires int
	releases int
}

func (l *fakeLocks) AcquireUserLock(ctx context.Context, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	l.acquires++
	return true, nil
}

func (l *fakeLocks) ReleaseUserLock(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.releases++
	return nil
}

type upgradeFixture struct {
	service *NFTUpgradeService
	repo    *fakeRepo
	ledger  *fakeLedger
	badges  *fakeBadges
	assets  *fakeAssets
	events  *fakeEvents
	locks   *fakeLocks
}

func newUpgradeFixture(t *testing.T, badgeCount int) *upgradeFixture {
	t.Helper()

	badges := &fakeBadges{}
	for i := 0; i < badgeCount; i++ {
		badges.activated = append(badges.activated, models.UserBadge{
			ID:     fmt.Sprintf("badge-%d", i),
			UserID: "user-1",
			Status: models.BadgeStatusActivated,
		})
	}

	f := &upgradeFixture{
		repo:   newFakeRepo(),
		ledger: happyLedger(),
		badges: badges,
		assets: &fakeAssets{ownerID: "user-1", nftID: "nft-1", level: 1},
		events: &fakeEvents{},
		locks:  &fakeLocks{held: true}, // submission path took the lock
	}
	f.service = NewNFTUpgradeService(
		newTestSSEManager(10),
		f.events,
		f.ledger,
		f.badges,
		f.assets,
		f.repo,
		f.locks,
		UpgradeServiceConfig{
			MaxRetries:          3,
			ConfirmationTimeout: time.Second,
			AutoRetryCooldown:   time.Millisecond,
			StuckTimeout:        time.Minute,
			RetentionMaxAge:     time.Hour,
		},
	)
	return f
}

func TestInitiateUpgradeHappyPath(t *testing.T) {
	f := newUpgradeFixture(t, 3)

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusBurnPending, req.Status)
	// Level 3 needs exactly 2 badges, reserved oldest first
	require.Equal(t, []string{"badge-0", "badge-1"}, req.ActivatedBadgeIDs)
	require.Equal(t, 3, req.MaxRetries)
	require.Empty(t, f.badges.consumed, "badges must not be consumed at initiation")

	history, err := f.service.GetStatusHistory(req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.StatusInitiated, history[0].Status)
	require.Equal(t, models.StatusBurnPending, history[1].Status)

	require.Equal(t, []string{EventUpgradeInitiated}, f.events.published())
}

func TestInitiateUpgradeRejectsInsufficientBadges(t *testing.T) {
	f := newUpgradeFixture(t, 1)

	_, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeQualificationFailed, ue.Type)
	require.False(t, ue.Retryable)
}

func TestInitiateUpgradeRejectsInvalidTargetLevel(t *testing.T) {
	f := newUpgradeFixture(t, 4)
	f.assets.level = 3

	for _, target := range []int{1, 2, 3, 6} {
		_, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", target, "")
		ue, ok := models.AsUpgradeError(err)
		require.True(t, ok, "target %d", target)
		require.Equal(t, models.ErrTypeInvalidState, ue.Type)
	}
}

func TestInitiateUpgradeRejectsConcurrentRequest(t *testing.T) {
	f := newUpgradeFixture(t, 4)

	_, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)

	_, err = f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeAlreadyInProgress, ue.Type)
}

func TestBurnConfirmationCompletesUpgrade(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)

	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	final, err := f.service.GetUpgradeRequest(req.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status)
	require.Equal(t, "burn-tx-1", final.BurnTransactionHash)
	require.Equal(t, "mint-tx-1", final.MintTransactionHash)

	// Completion side effects: asset recorded, badges consumed, lock released
	require.Len(t, f.assets.recorded, 1)
	require.Equal(t, 3, f.assets.recorded[0].NewLevel)
	require.Equal(t, []string{"badge-0", "badge-1"}, f.badges.consumed)
	require.Equal(t, 1, f.locks.releases)

	history, _ := f.service.GetStatusHistory(req.ID)
	var statuses []models.UpgradeStatus
	for _, h := range history {
		statuses = append(statuses, h.Status)
	}
	require.Equal(t, []models.UpgradeStatus{
		models.StatusInitiated,
		models.StatusBurnPending,
		models.StatusBurnConfirmed,
		models.StatusMintPending,
		models.StatusCompleted,
	}, statuses)

	require.Equal(t, []string{EventUpgradeInitiated, EventUpgradeCompleted}, f.events.published())
}

func TestBurnVerificationFailureLeavesRequestRetryable(t *testing.T) {
	f := newUpgradeFixture(t, 2)
	f.ledger.verifyBurn = func(context.Context, string, string) (bool, error) { return false, nil }

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)

	err = f.service.HandleBurnConfirmation(context.Background(), req.ID, "bogus-tx")
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeBurnVerificationFailed, ue.Type)
	require.True(t, ue.Retryable)

	// The request stays in burn_pending so a corrected hash can be submitted
	current, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusBurnPending, current.Status)
	require.Empty(t, current.BurnTransactionHash)
	require.Empty(t, f.badges.consumed)
}

func TestBurnConfirmationRejectedFromWrongState(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	// Completed is terminal; a second confirmation must be rejected
	err = f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-2")
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeInvalidState, ue.Type)
}

func TestMintFailureThenManualRetrySucceeds(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	attempts := 0
	f.ledger.mint = func(context.Context, string, int) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("rpc node timeout")
		}
		return "mint-tx-2", nil
	}

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	failed, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusFailedRetryable, failed.Status)
	require.True(t, failed.IsRetryable)
	require.Empty(t, f.badges.consumed, "failed mint must not consume badges")
	require.Equal(t, 1, f.locks.releases, "lock released on failure outcome")

	require.NoError(t, f.service.RetryUpgrade(context.Background(), req.ID))

	final, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusCompleted, final.Status)
	require.Equal(t, 1, final.RetryCount)
	require.Equal(t, "mint-tx-2", final.MintTransactionHash)
	require.Equal(t, "burn-tx-1", final.BurnTransactionHash, "burn is never redone")
	require.Equal(t, 2, attempts, "exactly one mint retry")
	require.Equal(t, []string{"badge-0", "badge-1"}, f.badges.consumed)
	require.Equal(t, 2, f.locks.releases, "lock re-acquired for retry and released on completion")
}

func TestRetryBudgetExhaustionGoesPermanent(t *testing.T) {
	f := newUpgradeFixture(t, 2)
	f.ledger.mint = func(context.Context, string, int) (string, error) {
		return "", errors.New("rpc node timeout")
	}

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	// Burn through the retry budget
	for i := 0; i < 3; i++ {
		current, _ := f.service.GetUpgradeRequest(req.ID)
		if current.Status != models.StatusFailedRetryable {
			break
		}
		require.NoError(t, f.service.RetryUpgrade(context.Background(), req.ID))
	}

	final, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusFailedPermanent, final.Status)
	require.Equal(t, 3, final.RetryCount)
	require.False(t, final.IsRetryable)

	err = f.service.RetryUpgrade(context.Background(), req.ID)
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeInvalidState, ue.Type)
	require.Empty(t, f.badges.consumed)
}

func TestNonRetryableMintErrorGoesPermanentImmediately(t *testing.T) {
	f := newUpgradeFixture(t, 2)
	f.ledger.mint = func(context.Context, string, int) (string, error) {
		return "", errors.New("transaction failed: insufficient funds")
	}

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	final, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusFailedPermanent, final.Status)
	require.False(t, final.IsRetryable)
	require.Equal(t, 0, final.RetryCount, "budget untouched, category was permanent")
	require.Contains(t, f.events.published(), EventUpgradeFailed)
}

func TestMintConfirmationTimeoutIsRetryable(t *testing.T) {
	f := newUpgradeFixture(t, 2)
	f.ledger.confirm = func(context.Context, string) (bool, error) { return false, nil }

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	final, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusFailedRetryable, final.Status)
	require.True(t, final.IsRetryable)
}

func TestRetryRejectedWhenLockHeld(t *testing.T) {
	f := newUpgradeFixture(t, 2)
	f.ledger.mint = func(context.Context, string, int) (string, error) {
		return "", errors.New("rpc node timeout")
	}

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	// Someone else holds the user lock now
	f.locks.held = true

	err = f.service.RetryUpgrade(context.Background(), req.ID)
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeAlreadyInProgress, ue.Type)
}

func TestProcessAutoRetriesDrivesRequestToCompletion(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	attempts := 0
	f.ledger.mint = func(context.Context, string, int) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("connection reset by peer")
		}
		return "mint-tx-3", nil
	}

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), req.ID, "burn-tx-1"))

	failed, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusFailedRetryable, failed.Status)

	f.service.ProcessAutoRetries(context.Background())

	final, _ := f.service.GetUpgradeRequest(req.ID)
	require.Equal(t, models.StatusCompleted, final.Status)
	require.Equal(t, 1, final.RetryCount)
}

func TestRecoverStuckRequestsPromotesToRetryable(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	// A crash between burn confirmation and mint outcome leaves the request
	// parked with nobody driving it
	stuck := &models.UpgradeRequest{
		UserID:              "user-1",
		CurrentNFTID:        "nft-1",
		TargetLevel:         3,
		Status:              models.StatusMintPending,
		BurnTransactionHash: "burn-tx-1",
		MaxRetries:          3,
	}
	require.NoError(t, f.repo.Create(stuck))

	f.service.RecoverStuckRequests(context.Background())

	recovered, _ := f.service.GetUpgradeRequest(stuck.ID)
	require.Equal(t, models.StatusFailedRetryable, recovered.Status)
	require.True(t, recovered.IsRetryable)
	require.NotEmpty(t, recovered.ErrorDetails)
	require.Equal(t, 1, f.locks.releases, "crashed holder's lock is released")

	// The auto-retry sweep can now pick it up
	require.True(t, f.service.CanRetry(recovered))

	history, _ := f.service.GetStatusHistory(stuck.ID)
	require.Len(t, history, 1)
	require.Equal(t, models.StatusFailedRetryable, history[0].Status)
}

func TestRecoverStuckRequestsWithSpentBudgetGoesPermanent(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	stuck := &models.UpgradeRequest{
		UserID:              "user-1",
		CurrentNFTID:        "nft-1",
		TargetLevel:         3,
		Status:              models.StatusBurnConfirmed,
		BurnTransactionHash: "burn-tx-1",
		RetryCount:          3,
		MaxRetries:          3,
	}
	require.NoError(t, f.repo.Create(stuck))

	f.service.RecoverStuckRequests(context.Background())

	recovered, _ := f.service.GetUpgradeRequest(stuck.ID)
	require.Equal(t, models.StatusFailedPermanent, recovered.Status)
	require.False(t, recovered.IsRetryable)
	require.False(t, f.service.CanRetry(recovered))
	require.Equal(t, 1, f.locks.releases)
}

func TestDuplicateBurnHashRejected(t *testing.T) {
	f := newUpgradeFixture(t, 4)

	first, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), first.ID, "burn-tx-1"))

	// The completed request is terminal, so a new submission is admitted
	second, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 4, "")
	require.NoError(t, err)

	err = f.service.HandleBurnConfirmation(context.Background(), second.ID, "burn-tx-1")
	ue, ok := models.AsUpgradeError(err)
	require.True(t, ok)
	require.Equal(t, models.ErrTypeBurnVerificationFailed, ue.Type)
	require.False(t, ue.Retryable)

	// The second request is untouched by the rejected hash
	current, _ := f.service.GetUpgradeRequest(second.ID)
	require.Equal(t, models.StatusBurnPending, current.Status)
	require.Empty(t, current.BurnTransactionHash)

	// A fresh hash still moves it forward
	require.NoError(t, f.service.HandleBurnConfirmation(context.Background(), second.ID, "burn-tx-2"))
	final, _ := f.service.GetUpgradeRequest(second.ID)
	require.Equal(t, models.StatusCompleted, final.Status)
}

func TestGetUserUpgradeRequestsFiltersByStatus(t *testing.T) {
	f := newUpgradeFixture(t, 2)

	req, err := f.service.InitiateUpgrade(context.Background(), "user-1", "nft-1", 3, "")
	require.NoError(t, err)

	pending, err := f.service.GetUserUpgradeRequests("user-1", models.StatusBurnPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, req.ID, pending[0].ID)

	completed, err := f.service.GetUserUpgradeRequests("user-1", models.StatusCompleted)
	require.NoError(t, err)
	require.Empty(t, completed)

	none, err := f.service.GetUserUpgradeRequests("user-2", "")
	require.NoError(t, err)
	require.Empty(t, none)
}

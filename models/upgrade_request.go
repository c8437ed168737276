package models

import (
	"time"
)

// UpgradeStatus is the lifecycle state of an UpgradeRequest.
type UpgradeStatus string

const (
	StatusInitiated       UpgradeStatus = "initiated"
	StatusBurnPending     UpgradeStatus = "burn_pending"
	StatusBurnConfirmed   UpgradeStatus = "burn_confirmed"
	StatusMintPending     UpgradeStatus = "mint_pending"
	StatusCompleted       UpgradeStatus = "completed"
	StatusFailedRetryable UpgradeStatus = "failed_retryable"
	StatusFailedPermanent UpgradeStatus = "failed_permanent"
)

// MaxNFTLevel is the highest tier an NFT can be upgraded to.
const MaxNFTLevel = 5

// RequiredBadgesForLevel maps a target level to the number of activated
// badges that must be consumed to reach it.
var RequiredBadgesForLevel = map[int]int{
	2: 1,
	3: 2,
	4: 3,
	5: 4,
}

// RequiredBadgeCount returns the activated-badge cost of a target level.
func RequiredBadgeCount(targetLevel int) int {
	return RequiredBadgesForLevel[targetLevel]
}

// UpgradeRequest tracks one burn-then-mint upgrade from creation to a
// terminal state. Badges in ActivatedBadgeIDs are reserved at creation and
// consumed only when the request reaches completed.
type UpgradeRequest struct {
	ID                  string        `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID              string        `gorm:"index;not null" json:"userId"`
	CurrentNFTID        string        `gorm:"index;not null" json:"currentNftId"`
	TargetLevel         int           `gorm:"not null" json:"targetLevel"`
	Status              UpgradeStatus `gorm:"type:varchar(32);index;not null;default:'initiated'" json:"status"`
	BurnTransactionHash string        `gorm:"type:varchar(128)" json:"burnTransactionHash,omitempty"`
	MintTransactionHash string        `gorm:"type:varchar(128)" json:"mintTransactionHash,omitempty"`
	RetryCount          int           `gorm:"default:0" json:"retryCount"`
	MaxRetries          int           `gorm:"default:3" json:"maxRetries"`
	IsRetryable         bool          `gorm:"default:false" json:"isRetryable"`
	ActivatedBadgeIDs   []string      `gorm:"type:jsonb;serializer:json" json:"activatedBadgeIds"`
	ErrorDetails        string        `gorm:"type:text" json:"errorDetails,omitempty"`
	CreatedAt           time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
}

// UpgradeStatusHistory is the append-only audit trail of status transitions.
type UpgradeStatusHistory struct {
	ID               string        `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UpgradeRequestID string        `gorm:"index;not null" json:"upgradeRequestId"`
	Status           UpgradeStatus `gorm:"type:varchar(32);not null" json:"status"`
	Message          string        `gorm:"type:text" json:"message"`
	CreatedAt        time.Time     `gorm:"autoCreateTime" json:"createdAt"`
}

// UpdateUpgradeRequestData carries the mutable fields of an update. Pointer
// fields distinguish "not set" from zero values.
type UpdateUpgradeRequestData struct {
	Status              *UpgradeStatus
	BurnTransactionHash *string
	MintTransactionHash *string
	RetryCount          *int
	ErrorDetails        *string
	IsRetryable         *bool
}

// UpgradeRequestRepository is the persistence contract the orchestrator
// depends on. The GORM implementation lives in the services package; tests
// substitute an in-memory fake.
type UpgradeRequestRepository interface {
	Create(req *UpgradeRequest) error
	FindByID(id string) (*UpgradeRequest, error)
	FindByUserID(userID string, status UpgradeStatus) ([]UpgradeRequest, error)
	FindByBurnHash(burnTransactionHash string) (*UpgradeRequest, error)
	Update(id string, data UpdateUpgradeRequestData) (*UpgradeRequest, error)
	AddStatusHistory(upgradeRequestID string, status UpgradeStatus, message string) error
	GetStatusHistory(upgradeRequestID string) ([]UpgradeStatusHistory, error)
	FindRetryableRequests(olderThan time.Duration) ([]UpgradeRequest, error)
	FindStuckRequests(cutoff time.Duration) ([]UpgradeRequest, error)
	CleanupOldRequests(maxAge time.Duration) (int64, error)
}

// validTransitions is the full transition table. Burn is never retried: the
// only way back from failed_retryable is into the mint phase.
var validTransitions = map[UpgradeStatus][]UpgradeStatus{
	StatusInitiated: {
		StatusBurnPending,
		StatusFailedPermanent,
	},
	StatusBurnPending: {
		StatusBurnConfirmed,
		StatusFailedRetryable,
		StatusFailedPermanent,
	},
	StatusBurnConfirmed: {
		StatusMintPending,
		StatusFailedRetryable,
		StatusFailedPermanent,
	},
	StatusMintPending: {
		StatusCompleted,
		StatusFailedRetryable,
		StatusFailedPermanent,
	},
	StatusFailedRetryable: {
		StatusMintPending,
		StatusFailedPermanent,
	},
	StatusCompleted:       {},
	StatusFailedPermanent: {},
}

// CanTransition reports whether moving from current to next is legal.
func CanTransition(current, next UpgradeStatus) bool {
	for _, allowed := range validTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transitions may leave s.
func IsTerminalStatus(s UpgradeStatus) bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

// IsRetryableStatus reports whether s is the retry-eligible failure state.
func IsRetryableStatus(s UpgradeStatus) bool {
	return s == StatusFailedRetryable
}

// IsValidStatus reports whether s is a known lifecycle status.
func IsValidStatus(s UpgradeStatus) bool {
	_, ok := validTransitions[s]
	return ok
}

// ActiveStatuses lists every non-terminal status. Used by the row-locked
// eligibility check to find in-flight requests.
func ActiveStatuses() []UpgradeStatus {
	return []UpgradeStatus{
		StatusInitiated,
		StatusBurnPending,
		StatusBurnConfirmed,
		StatusMintPending,
		StatusFailedRetryable,
	}
}

package models

import (
	"time"
)

// Badge statuses. Activated badges qualify an upgrade; consumed badges were
// spent by a completed upgrade and never come back.
const (
	BadgeStatusEarned    = "earned"
	BadgeStatusActivated = "activated"
	BadgeStatusConsumed  = "consumed"
)

// BadgeType: static config (loaded from DB or seed)
type BadgeType struct {
	ID          string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Code        string    `gorm:"uniqueIndex;not null" json:"code"` // e.g., "VOLUME_100K", "EARLY_TRADER"
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	IconURL     string    `gorm:"type:text" json:"iconUrl"`
	Rarity      string    `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// UserBadge: awarded instance. Only status=activated badges count toward an
// upgrade; consumption flips status instead of deleting the row so the audit
// trail survives.
type UserBadge struct {
	ID               string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID           string     `gorm:"index;not null" json:"userId"`
	BadgeTypeID      string     `gorm:"index;not null" json:"badgeTypeId"`
	Status           string     `gorm:"type:varchar(16);index;default:'earned'" json:"status"`
	AwardedAt        time.Time  `gorm:"autoCreateTime" json:"awardedAt"`
	ConsumedAt       *time.Time `json:"consumedAt,omitempty"`
	UpgradeRequestID string     `gorm:"type:uuid" json:"upgradeRequestId,omitempty"` // set when consumed
}

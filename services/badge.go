package services

import (
	"fmt"
	"time"

	"nft-upgrade-system/models"

	"gorm.io/gorm"
)

// QualificationService is the badge collaborator the orchestrator consumes.
type QualificationService interface {
	GetActivatedBadges(userID string) ([]models.UserBadge, error)
	ConsumeBadges(badgeIDs []string, upgradeRequestID string) error
}

type BadgeService struct {
	DB *gorm.DB
}

func NewBadgeService(db *gorm.DB) *BadgeService {
	return &BadgeService{DB: db}
}

// GetActivatedBadges lists the badges a user can spend on an upgrade,
// oldest first so the earliest-earned badges are reserved first.
func (s *BadgeService) GetActivatedBadges(userID string) ([]models.UserBadge, error) {
	var badges []models.UserBadge
	if err := s.DB.
		Where("user_id = ? AND status = ?", userID, models.BadgeStatusActivated).
		Order("awarded_at ASC").
		Find(&badges).Error; err != nil {
		return nil, err
	}
	return badges, nil
}

// ConsumeBadges flips the given badges from activated to consumed in one
// statement. It fails if any badge is missing or no longer activated, so a
// completed upgrade can never spend a badge twice.
func (s *BadgeService) ConsumeBadges(badgeIDs []string, upgradeRequestID string) error {
	if len(badgeIDs) == 0 {
		return nil
	}

	now := time.Now()
	result := s.DB.Model(&models.UserBadge{}).
		Where("id IN ? AND status = ?", badgeIDs, models.BadgeStatusActivated).
		Updates(map[string]interface{}{
			"status":             models.BadgeStatusConsumed,
			"consumed_at":        now,
			"upgrade_request_id": upgradeRequestID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(badgeIDs)) {
		return fmt.Errorf("consumed %d of %d badges, some were not in activated status", result.RowsAffected, len(badgeIDs))
	}
	return nil
}

package services

import (
	"errors"
	"time"

	"nft-upgrade-system/models"

	"gorm.io/gorm"
)

// GormUpgradeRepository is the Postgres-backed implementation of
// models.UpgradeRequestRepository.
type GormUpgradeRepository struct {
	DB *gorm.DB
}

func NewGormUpgradeRepository(db *gorm.DB) *GormUpgradeRepository {
	return &GormUpgradeRepository{DB: db}
}

func (r *GormUpgradeRepository) Create(req *models.UpgradeRequest) error {
	return r.DB.Create(req).Error
}

func (r *GormUpgradeRepository) FindByID(id string) (*models.UpgradeRequest, error) {
	var req models.UpgradeRequest
	if err := r.DB.Where("id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *GormUpgradeRepository) FindByUserID(userID string, status models.UpgradeStatus) ([]models.UpgradeRequest, error) {
	var reqs []models.UpgradeRequest
	q := r.DB.Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("created_at DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (r *GormUpgradeRepository) FindByBurnHash(burnTransactionHash string) (*models.UpgradeRequest, error) {
	var req models.UpgradeRequest
	if err := r.DB.Where("burn_transaction_hash = ?", burnTransactionHash).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *GormUpgradeRepository) Update(id string, data models.UpdateUpgradeRequestData) (*models.UpgradeRequest, error) {
	updates := map[string]interface{}{}
	if data.Status != nil {
		updates["status"] = *data.Status
	}
	if data.BurnTransactionHash != nil {
		updates["burn_transaction_hash"] = *data.BurnTransactionHash
	}
	if data.MintTransactionHash != nil {
		updates["mint_transaction_hash"] = *data.MintTransactionHash
	}
	if data.RetryCount != nil {
		updates["retry_count"] = *data.RetryCount
	}
	if data.ErrorDetails != nil {
		updates["error_details"] = *data.ErrorDetails
	}
	if data.IsRetryable != nil {
		updates["is_retryable"] = *data.IsRetryable
	}

	if len(updates) > 0 {
		if err := r.DB.Model(&models.UpgradeRequest{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.FindByID(id)
}

func (r *GormUpgradeRepository) AddStatusHistory(upgradeRequestID string, status models.UpgradeStatus, message string) error {
	entry := models.UpgradeStatusHistory{
		UpgradeRequestID: upgradeRequestID,
		Status:           status,
		Message:          message,
	}
	return r.DB.Create(&entry).Error
}

func (r *GormUpgradeRepository) GetStatusHistory(upgradeRequestID string) ([]models.UpgradeStatusHistory, error) {
	var history []models.UpgradeStatusHistory
	if err := r.DB.Where("upgrade_request_id = ?", upgradeRequestID).
		Order("created_at ASC").
		Find(&history).Error; err != nil {
		return nil, err
	}
	return history, nil
}

// FindRetryableRequests returns failed_retryable requests that have been
// sitting longer than the cooldown, oldest first, for the auto-retry sweep.
func (r *GormUpgradeRepository) FindRetryableRequests(olderThan time.Duration) ([]models.UpgradeRequest, error) {
	cutoff := time.Now().Add(-olderThan)
	var reqs []models.UpgradeRequest
	if err := r.DB.
		Where("status = ? AND is_retryable = ? AND retry_count < max_retries", models.StatusFailedRetryable, true).
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// FindStuckRequests returns requests parked in burn_confirmed or mint_pending
// past the cutoff. A crash between burn confirmation and mint completion
// leaves a request here with nobody driving it.
func (r *GormUpgradeRepository) FindStuckRequests(cutoff time.Duration) ([]models.UpgradeRequest, error) {
	threshold := time.Now().Add(-cutoff)
	var reqs []models.UpgradeRequest
	if err := r.DB.
		Where("status IN ?", []models.UpgradeStatus{models.StatusBurnConfirmed, models.StatusMintPending}).
		Where("updated_at < ?", threshold).
		Order("updated_at ASC").
		Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// CleanupOldRequests bulk-deletes terminal requests older than maxAge along
// with their status history. Returns the number of requests removed.
func (r *GormUpgradeRepository) CleanupOldRequests(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)

	var ids []string
	if err := r.DB.Model(&models.UpgradeRequest{}).
		Where("status IN ?", []models.UpgradeStatus{models.StatusCompleted, models.StatusFailedPermanent}).
		Where("updated_at < ?", cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upgrade_request_id IN ?", ids).Delete(&models.UpgradeStatusHistory{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.UpgradeRequest{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

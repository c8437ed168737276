package services

import (
	"errors"
	"fmt"

	"nft-upgrade-system/models"

	"gorm.io/gorm"
)

// AssetService is the NFT-ownership collaborator the orchestrator consumes.
type AssetService interface {
	VerifyOwnership(userID, nftID string) (bool, error)
	GetNFTLevel(nftID string) (int, error)
	RecordUpgrade(rec UpgradeRecord) error
}

// UpgradeRecord captures a completed upgrade for the asset subsystem.
type UpgradeRecord struct {
	UserID              string
	OldNFTID            string
	NewLevel            int
	MintTransactionHash string
	UpgradeRequestID    string
}

type UserNFTService struct {
	DB *gorm.DB
}

func NewUserNFTService(db *gorm.DB) *UserNFTService {
	return &UserNFTService{DB: db}
}

// VerifyOwnership reports whether the user owns the NFT and it is still
// active (not burned or already upgraded away).
func (s *UserNFTService) VerifyOwnership(userID, nftID string) (bool, error) {
	var count int64
	err := s.DB.Model(&models.UserNFT{}).
		Where("id = ? AND user_id = ? AND status = ?", nftID, userID, models.NFTStatusActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *UserNFTService) GetNFTLevel(nftID string) (int, error) {
	var nft models.UserNFT
	if err := s.DB.Where("id = ?", nftID).First(&nft).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("NFT %s not found", nftID)
		}
		return 0, err
	}
	return nft.Level, nil
}

// RecordUpgrade marks the old NFT as upgraded and creates the new-level row
// in one transaction. The burn already happened on chain; this only mirrors
// the outcome.
func (s *UserNFTService) RecordUpgrade(rec UpgradeRecord) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.UserNFT{}).
			Where("id = ? AND user_id = ? AND status = ?", rec.OldNFTID, rec.UserID, models.NFTStatusActive).
			Updates(map[string]interface{}{
				"status":             models.NFTStatusUpgraded,
				"upgrade_request_id": rec.UpgradeRequestID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("NFT %s not found in active status for user %s", rec.OldNFTID, rec.UserID)
		}

		newNFT := models.UserNFT{
			UserID:              rec.UserID,
			Name:                fmt.Sprintf("Membership NFT Level %d", rec.NewLevel),
			Level:               rec.NewLevel,
			MintTransactionHash: rec.MintTransactionHash,
			Status:              models.NFTStatusActive,
			UpgradedFromID:      rec.OldNFTID,
			UpgradeRequestID:    rec.UpgradeRequestID,
		}
		return tx.Create(&newNFT).Error
	})
}

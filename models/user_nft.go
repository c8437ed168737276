package models

import (
	"time"
)

// NFT statuses. An upgrade marks the source NFT "upgraded" (its on-chain
// token is burned) and creates a fresh "active" row at the new level.
const (
	NFTStatusActive   = "active"
	NFTStatusBurned   = "burned"
	NFTStatusUpgraded = "upgraded"
)

// UserNFT mirrors one on-chain membership NFT owned by a user.
type UserNFT struct {
	ID                  string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	UserID              string    `gorm:"index;not null" json:"userId"`
	Name                string    `gorm:"not null" json:"name"`
	Level               int       `gorm:"not null;default:1" json:"level"`
	MintAddress         string    `gorm:"index" json:"mintAddress,omitempty"` // filled by wallet sync once on chain
	MintTransactionHash string    `gorm:"type:varchar(128);uniqueIndex" json:"mintTransactionHash,omitempty"`
	MetadataURI         string    `gorm:"type:text" json:"metadataUri,omitempty"`
	Status              string    `gorm:"type:varchar(16);index;default:'active'" json:"status"`
	UpgradedFromID      string    `gorm:"type:uuid" json:"upgradedFromId,omitempty"`
	UpgradeRequestID    string    `gorm:"type:uuid" json:"upgradeRequestId,omitempty"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

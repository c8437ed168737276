package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nft-upgrade-system/models"
)

// NFTSyncClient pulls on-chain NFT state from the wallet service into the
// local user_nfts mirror. It is the only writer of mint_address: rows created
// by the upgrade flow carry a mint transaction hash but no address until the
// wallet service has observed the mint on chain.
type NFTSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewNFTSyncClient(db *gorm.DB) *NFTSyncClient {
	baseURL := os.Getenv("WALLET_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("WALLET_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("UPGRADE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("UPGRADE_SERVICE_TOKEN environment variable is required for NFT sync")
	}

	return &NFTSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// mirroredNFT matches the wallet service's public NFT listing.
type mirroredNFT struct {
	UserID              string    `json:"userId"`
	Name                string    `json:"name"`
	Level               int       `json:"level"`
	MintAddress         string    `json:"mintAddress"`
	MintTransactionHash string    `json:"mintTransactionHash"`
	MetadataURI         string    `json:"metadataUri"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

func (c *NFTSyncClient) GetChangedNFTs(ctx context.Context, since time.Time) ([]mirroredNFT, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/nfts", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call wallet service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("wallet service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		NFTs []mirroredNFT `json:"nfts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode wallet service response: %w", err)
	}

	return response.NFTs, nil
}

// PollNFTs keeps the user_nfts mirror current. Matching on the mint
// transaction hash lets the upsert fill mint_address on rows the upgrade
// flow already created instead of duplicating them.
func PollNFTs(ctx context.Context, client *NFTSyncClient, pollInterval time.Duration) {
	log.Println("Starting NFT mirror polling...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("NFT mirror polling stopped.")
			return
		case <-ticker.C:
			logTime := time.Now().UTC()
			log.Printf("Polling for NFT changes since %s...", lastSyncTime.Format(time.RFC3339))

			remote, err := client.GetChangedNFTs(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling NFTs: %v", err)
				continue
			}

			count := len(remote)
			log.Printf("📥 Received %d NFT change(s) from wallet service.", count)

			if count == 0 {
				continue
			}

			rows := make([]models.UserNFT, 0, count)
			for _, r := range remote {
				if r.MintTransactionHash == "" {
					log.Printf("⚠️ Skipping NFT change without mint transaction hash (user %s)", r.UserID)
					continue
				}
				rows = append(rows, models.UserNFT{
					UserID:              r.UserID,
					Name:                r.Name,
					Level:               r.Level,
					MintAddress:         r.MintAddress,
					MintTransactionHash: r.MintTransactionHash,
					MetadataURI:         r.MetadataURI,
					Status:              r.Status,
					CreatedAt:           r.CreatedAt,
					UpdatedAt:           r.UpdatedAt,
				})
			}
			if len(rows) == 0 {
				continue
			}

			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "mint_transaction_hash"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"mint_address",
						"metadata_uri",
						"status",
						"updated_at",
					}),
				},
			).Create(&rows).Error; err != nil {
				log.Printf("❌ Failed to upsert %d NFT(s) into user_nfts: %v", len(rows), err)
				// Keep lastSyncTime so the same window is retried next tick
				continue
			}

			lastSyncTime = logTime
			log.Printf("✅ Upserted %d NFT(s) into user_nfts table.", len(rows))
		}
	}
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"nft-upgrade-system/utils"
)

// LedgerService is the opaque blockchain collaborator. The wallet service
// behind it owns keys and transaction construction; this core only verifies,
// mints and confirms. Failures surface as plain errors for classification.
type LedgerService interface {
	VerifyBurn(ctx context.Context, txHash, nftID string) (bool, error)
	Mint(ctx context.Context, userID string, targetLevel int) (string, error)
	ConfirmTransaction(ctx context.Context, txHash string) (bool, error)
}

// WalletLedgerClient talks to the internal wallet service over HTTP.
type WalletLedgerClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewWalletLedgerClient(baseURL, token string) *WalletLedgerClient {
	return &WalletLedgerClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// VerifyBurn asks the wallet service whether txHash actually burned the
// given NFT. The wallet service resolves the id to its on-chain mint address.
func (c *WalletLedgerClient) VerifyBurn(ctx context.Context, txHash, nftID string) (bool, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/ledger/burns/%s", c.BaseURL, url.PathEscape(txHash)))
	if err != nil {
		return false, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("nft", nftID)
	u.RawQuery = q.Encode()

	var response struct {
		Verified bool `json:"verified"`
	}
	if err := c.doJSON(ctx, "GET", u.String(), nil, &response); err != nil {
		return false, err
	}
	return response.Verified, nil
}

// Mint uploads the new token's metadata to R2, then asks the wallet service
// to mint a target-level token to the user's wallet. Returns the mint
// transaction hash.
func (c *WalletLedgerClient) Mint(ctx context.Context, userID string, targetLevel int) (string, error) {
	metadataURI, err := c.uploadMetadata(ctx, userID, targetLevel)
	if err != nil {
		return "", fmt.Errorf("failed to upload NFT metadata: %w", err)
	}

	payload := map[string]interface{}{
		"userId":      userID,
		"targetLevel": targetLevel,
		"metadataUri": metadataURI,
	}
	var response struct {
		TransactionHash string `json:"transactionHash"`
	}
	endpoint := fmt.Sprintf("%s/api/v1/ledger/mint", c.BaseURL)
	if err := c.doJSON(ctx, "POST", endpoint, payload, &response); err != nil {
		return "", err
	}
	if response.TransactionHash == "" {
		return "", fmt.Errorf("wallet service returned empty mint transaction hash")
	}
	return response.TransactionHash, nil
}

// ConfirmTransaction polls the wallet service until the transaction is
// confirmed or the context deadline expires.
func (c *WalletLedgerClient) ConfirmTransaction(ctx context.Context, txHash string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/ledger/transactions/%s", c.BaseURL, url.PathEscape(txHash))

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var response struct {
			Confirmed bool `json:"confirmed"`
		}
		if err := c.doJSON(ctx, "GET", endpoint, nil, &response); err != nil {
			return false, err
		}
		if response.Confirmed {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *WalletLedgerClient) uploadMetadata(ctx context.Context, userID string, targetLevel int) (string, error) {
	name := fmt.Sprintf("Membership NFT Level %d", targetLevel)
	metadata := map[string]interface{}{
		"name":        name,
		"symbol":      "MEMBER",
		"description": fmt.Sprintf("Tier %d membership token", targetLevel),
		"attributes": []map[string]interface{}{
			{"trait_type": "level", "value": targetLevel},
		},
	}
	key := fmt.Sprintf("nft-metadata/%s-%s.json", slug.Make(name), uuid.NewString())

	uri, err := utils.UploadJSONToR2(ctx, key, metadata)
	if err != nil {
		return "", err
	}
	log.Printf("[LedgerClient] Uploaded metadata for level %d (user %s): %s", targetLevel, userID, uri)
	return uri, nil
}

func (c *WalletLedgerClient) doJSON(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call wallet service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("wallet service returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode wallet service response: %w", err)
		}
	}
	return nil
}

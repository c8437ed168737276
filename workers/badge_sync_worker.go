package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nft-upgrade-system/models"
)

// MirroredBadgeAward matches the JSON the badge platform returns for one
// awarded (or activated) badge instance.
type MirroredBadgeAward struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	BadgeTypeID string    `json:"badge_type_id"`
	Status      string    `json:"status"`
	AwardedAt   time.Time `json:"awarded_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// GetBadgeChangesResponse is the top-level structure of the badge platform response.
type GetBadgeChangesResponse struct {
	Badges []MirroredBadgeAward `json:"badges"`
}

// BadgeSyncWorker mirrors badge awards and activations from the badge
// platform into the local user_badges table, which is what upgrade
// eligibility checks read. Consumption is local-only state and must never be
// overwritten by the mirror.
type BadgeSyncWorker struct {
	db           *gorm.DB
	interval     time.Duration
	baseURL      string
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewBadgeSyncWorker(db *gorm.DB, badgeServiceBaseURL, endpointPath, serviceToken string) *BadgeSyncWorker {
	return &BadgeSyncWorker{
		db:           db,
		interval:     1 * time.Minute,
		baseURL:      badgeServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *BadgeSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Badge Sync Worker (badge platform → user_badges)…")
	go w.run(ctx)
}

func (w *BadgeSyncWorker) run(ctx context.Context) {
	// Initial backfill from the beginning of time
	if err := w.syncBatch(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ Initial badge sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.syncBatch(ctx, w.getLastSyncTime()); err != nil {
				log.Printf("❌ Badge sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Badge Sync Worker stopped")
			return
		}
	}
}

// getLastSyncTime finds the most recent award timestamp in the local mirror.
func (w *BadgeSyncWorker) getLastSyncTime() time.Time {
	var lastTime time.Time
	err := w.db.Raw("SELECT MAX(awarded_at) FROM user_badges").Scan(&lastTime).Error
	if err != nil || lastTime.IsZero() {
		return time.Unix(0, 0)
	}
	return lastTime
}

// syncBatch fetches badge changes since the given time and upserts them into
// user_badges. Rows already consumed locally are left untouched.
func (w *BadgeSyncWorker) syncBatch(ctx context.Context, since time.Time) error {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return fmt.Errorf("invalid badge platform URL '%s': %w", w.baseURL, err)
	}

	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request to badge platform failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("badge platform non-200 response: %d — %s", resp.StatusCode, string(body))
	}

	var response GetBadgeChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode badge platform response: %w", err)
	}

	if len(response.Badges) == 0 {
		return nil
	}

	log.Printf("[BadgeSync] 📥 Processing %d badge change(s)…", len(response.Badges))

	var upsertCount, errorCount int
	for _, remote := range response.Badges {
		localBadge := models.UserBadge{
			ID:          remote.ID,
			UserID:      remote.UserID,
			BadgeTypeID: remote.BadgeTypeID,
			Status:      remote.Status,
			AwardedAt:   remote.AwardedAt,
		}

		if err := w.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "awarded_at"}),
			Where: clause.Where{
				Exprs: []clause.Expression{
					clause.Neq{Column: clause.Column{Table: "user_badges", Name: "status"}, Value: models.BadgeStatusConsumed},
				},
			},
		}).Create(&localBadge).Error; err != nil {
			errorCount++
			log.Printf("[BadgeSync] ⚠️ Failed to upsert user_badge (id=%q, user=%q): %v",
				remote.ID, remote.UserID, err)
		} else {
			upsertCount++
		}
	}

	log.Printf("[BadgeSync] ✅ Synced %d badge(s) (%d upserted, %d errors)",
		len(response.Badges), upsertCount, errorCount)
	return nil
}

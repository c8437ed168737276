// handlers/upgrade_routes.go
package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"nft-upgrade-system/middleware"
	"nft-upgrade-system/models"
	"nft-upgrade-system/services"
)

// SetupUpgradeRoutes registers the upgrade API. All routes require user
// context forwarded by the gateway (X-User-ID).
func SetupUpgradeRoutes(
	app *fiber.App,
	manager *services.ConcurrentUpgradeManager,
	upgradeService *services.NFTUpgradeService,
	sseManager *services.SSEConnectionManager,
	authClient *services.AuthServiceClient,
) {
	securedGroup := app.Group("/nft/upgrade", middleware.UserContextMiddleware())

	// Submit an upgrade. The request is queued; progress arrives over SSE.
	securedGroup.Post("/", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		type Req struct {
			CurrentNFTID string `json:"currentNftId"`
			TargetLevel  int    `json:"targetLevel"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.CurrentNFTID == "" || req.TargetLevel < 2 || req.TargetLevel > models.MaxNFTLevel {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "currentNftId and targetLevel (2-5) are required",
			})
		}

		requestID, err := manager.InitiateUpgradeWithConcurrencyControl(c.Context(), userID, req.CurrentNFTID, req.TargetLevel)
		if err != nil {
			return upgradeErrorResponse(c, err, "failed to submit upgrade")
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"upgradeRequestId": requestID,
			"message":          "Upgrade queued. Subscribe to the events stream for progress.",
		})
	})

	// Report the client-signed burn transaction hash.
	securedGroup.Post("/:id/burn-confirmation", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		requestID := c.Params("id")

		type Req struct {
			BurnTransactionHash string `json:"burnTransactionHash"`
		}
		var req Req
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		if req.BurnTransactionHash == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "burnTransactionHash is required",
			})
		}

		if _, ok := loadOwnedRequest(c, upgradeService, requestID, userID); !ok {
			return nil
		}

		if err := upgradeService.HandleBurnConfirmation(c.Context(), requestID, req.BurnTransactionHash); err != nil {
			return upgradeErrorResponse(c, err, "burn confirmation failed")
		}

		return c.JSON(fiber.Map{
			"message": "Burn confirmed, mint in progress",
		})
	})

	// Manual retry of the mint phase.
	securedGroup.Post("/:id/retry", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		requestID := c.Params("id")

		if _, ok := loadOwnedRequest(c, upgradeService, requestID, userID); !ok {
			return nil
		}

		if err := upgradeService.RetryUpgrade(c.Context(), requestID); err != nil {
			return upgradeErrorResponse(c, err, "retry failed")
		}

		return c.JSON(fiber.Map{
			"message": "Retry started",
		})
	})

	// Current status plus the full transition history.
	securedGroup.Get("/:id/status", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		requestID := c.Params("id")

		req, ok := loadOwnedRequest(c, upgradeService, requestID, userID)
		if !ok {
			return nil
		}

		history, err := upgradeService.GetStatusHistory(requestID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load status history",
				"cause": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"request": req,
			"history": history,
		})
	})

	// All of the caller's upgrade requests, optionally filtered by status.
	securedGroup.Get("/user/requests", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		status := models.UpgradeStatus(c.Query("status"))
		if status != "" && !models.IsValidStatus(status) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("unknown status filter %q", status),
			})
		}

		requests, err := upgradeService.GetUserUpgradeRequests(userID, status)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load upgrade requests",
				"cause": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"requests": requests,
		})
	})

	// Live progress stream for one upgrade request. EventSource cannot carry
	// gateway headers, so this route authenticates with a query token.
	app.Get("/nft/upgrade/:id/events", middleware.SSEAuthMiddleware(authClient), func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		requestID := c.Params("id")

		if _, ok := loadOwnedRequest(c, upgradeService, requestID, userID); !ok {
			return nil
		}

		conn := services.NewSSEConnection(c.Context(), uuid.NewString(), userID, requestID)
		if !sseManager.AddConnection(conn) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "too many active connections, please retry shortly",
			})
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer sseManager.RemoveConnection(conn.ID)

			writeSSE(w, services.SSEMessage{
				Type:             "connection_established",
				UpgradeRequestID: requestID,
				Message:          "Connected to upgrade event stream",
				Timestamp:        time.Now().UTC().Format(time.RFC3339),
			})
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case msg := <-conn.Messages:
					writeSSE(w, msg)
					if err := w.Flush(); err != nil {
						// Client disconnected
						return
					}
				case <-conn.Context().Done():
					// Removed, evicted or manager shutdown
					return
				case <-c.Context().Done():
					// Client closed connection
					return
				}
			}
		})

		return nil
	})

	// Operational snapshot: SSE connections and queue depth.
	securedGroup.Get("/health", func(c *fiber.Ctx) error {
		queueStats, err := manager.GetQueueStats()
		if err != nil {
			log.Printf("[UpgradeRoutes] Failed to read queue stats: %v", err)
		}
		return c.JSON(fiber.Map{
			"status":      "ok",
			"connections": sseManager.Stats(),
			"queue":       queueStats,
		})
	})
}

// loadOwnedRequest loads the request and rejects callers who do not own it.
// ok is false once an error response has been written; callers must stop and
// return nil so the written 403/404 stands.
func loadOwnedRequest(c *fiber.Ctx, upgradeService *services.NFTUpgradeService, requestID, userID string) (*models.UpgradeRequest, bool) {
	req, err := upgradeService.GetUpgradeRequest(requestID)
	if err != nil {
		_ = upgradeErrorResponse(c, err, "failed to load upgrade request")
		return nil, false
	}
	if req.UserID != userID {
		_ = c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "upgrade request belongs to another user",
		})
		return nil, false
	}
	return req, true
}

// upgradeErrorResponse maps domain error categories onto HTTP statuses.
func upgradeErrorResponse(c *fiber.Ctx, err error, fallback string) error {
	if ue, ok := models.AsUpgradeError(err); ok {
		status := fiber.StatusBadRequest
		switch ue.Type {
		case models.ErrTypeAlreadyInProgress:
			status = fiber.StatusConflict
		case models.ErrTypeCapacityExceeded:
			status = fiber.StatusServiceUnavailable
		case models.ErrTypeRateLimitExceeded:
			status = fiber.StatusTooManyRequests
		case models.ErrTypeInvalidState:
			if ue.Message == "upgrade request not found" {
				status = fiber.StatusNotFound
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"error":     ue.Message,
			"errorType": string(ue.Type),
			"retryable": ue.Retryable,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fallback,
		"cause": err.Error(),
	})
}

func writeSSE(w *bufio.Writer, msg services.SSEMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, payload)
}

package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"nft-upgrade-system/services"
)

// SSEAuthMiddleware validates `token` and `device_id` query params with the
// auth service. EventSource cannot set headers, so the event stream cannot
// rely on the gateway's X-User-ID like the rest of the API.
//
// Usage:
//
//	app.Get("/nft/upgrade/:id/events", middleware.SSEAuthMiddleware(authClient), handler)
func SSEAuthMiddleware(authClient *services.AuthServiceClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accessToken := strings.TrimSpace(c.Query("token"))
		deviceID := strings.TrimSpace(c.Query("device_id"))

		if accessToken == "" || deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing token or device_id in query",
			})
		}

		resp, err := authClient.ValidateToken(c.Context(), accessToken, deviceID)
		if err != nil {
			log.Printf("[SSEAuth] ❌ Validation failed for device %s: %v", deviceID, err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		c.Locals("user_id", resp.UserID)
		c.Locals("user_roles", resp.Roles)
		c.Locals("device_id", resp.DeviceID)

		return c.Next()
	}
}

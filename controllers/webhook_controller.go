package controller

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"

	"rdmsync/config"
	"rdmsync/worker"
)

// WebhookController receives Dropbox change notifications. The verification
// handshake is a GET echoing the challenge; notifications are POSTs signed
// with HMAC-SHA256 of the raw body under the app secret. Handlers must
// return fast, so notifications only enqueue work for the sync worker.
type WebhookController struct {
	Worker *worker.SyncWorker
	Logger *log.Logger
}

func NewWebhookController(w *worker.SyncWorker, logger *log.Logger) *WebhookController {
	return &WebhookController{Worker: w, Logger: logger}
}

// VerifyChallenge answers the endpoint-verification GET.
func (wc *WebhookController) VerifyChallenge(c *fiber.Ctx) error {
	challenge := c.Query("challenge")
	if challenge == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing challenge parameter",
		})
	}
	c.Set("Content-Type", "text/plain")
	c.Set("X-Content-Type-Options", "nosniff")
	return c.SendString(challenge)
}

// notificationPayload is the subset of the webhook body we act on. Team
// apps receive changed team ids keyed under "teams".
type notificationPayload struct {
	Teams map[string]json.RawMessage `json:"teams"`
}

// HandleNotification verifies the signature, extracts team ids and
// enqueues them. A payload without team ids enqueues every enabled team
// so a change is never silently dropped.
func (wc *WebhookController) HandleNotification(c *fiber.Ctx) error {
	body := c.Body()
	if !wc.validSignature(c.Get("X-Dropbox-Signature"), body) {
		wc.Logger.Printf("Rejected webhook with bad signature from %s", c.IP())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Invalid signature",
		})
	}

	var payload notificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		wc.Logger.Printf("Error parsing webhook payload: %v", err)
		return c.SendStatus(fiber.StatusOK)
	}

	teamIDs := make([]string, 0, len(payload.Teams))
	for teamID := range payload.Teams {
		teamIDs = append(teamIDs, teamID)
	}

	// The request context dies when the response is sent, but the cycle
	// runs after, so enqueue against the background context.
	if len(teamIDs) == 0 {
		wc.Logger.Println("Webhook carried no team ids, enqueueing all enabled teams")
		wc.Worker.EnqueueAll(context.Background())
	} else {
		wc.Logger.Printf("Webhook enqueueing %d team(s)", len(teamIDs))
		wc.Worker.Enqueue(context.Background(), teamIDs)
	}
	return c.SendStatus(fiber.StatusOK)
}

func (wc *WebhookController) validSignature(signature string, body []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(config.AppConfig.Dropbox.AppSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

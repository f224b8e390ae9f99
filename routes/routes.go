package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "rdmsync/controllers"
	"rdmsync/middleware"
	syncpkg "rdmsync/sync"
	"rdmsync/worker"
)

// SetupWebhookRoutes wires the Dropbox notification endpoint. Both the
// verification GET and the notification POST live on the same path.
func SetupWebhookRoutes(app *fiber.App, sw *worker.SyncWorker) {
	webhookLogger := log.New(os.Stdout, "WEBHOOK: ", log.Ldate|log.Ltime|log.Lshortfile)
	webhookController := controller.NewWebhookController(sw, webhookLogger)

	webhook := app.Group("/webhook", middleware.WebhookRateLimiter(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	webhook.Get("/dropbox", webhookController.VerifyChallenge)
	webhook.Post("/dropbox", webhookController.HandleNotification)

	webhookLogger.Println("Webhook routes initialized successfully")
}

// SetupAPIRoutes wires the token-protected admin endpoints.
func SetupAPIRoutes(app *fiber.App, db *gorm.DB, sw *worker.SyncWorker, job *syncpkg.Job) {
	syncLogger := log.New(os.Stdout, "SYNC-API: ", log.Ldate|log.Ltime|log.Lshortfile)
	syncController := controller.NewSyncController(db, sw, job, syncLogger)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	teamController := controller.NewTeamController(db, syncLogger)
	api.Post("/teams", teamController.RegisterTeam)

	sync := api.Group("/sync")
	sync.Post("/teams", syncController.TriggerTeamSync)
	sync.Post("/metadata", syncController.TriggerMetadataSync)

	projects := api.Group("/projects")
	projects.Get("/:guid/binding", syncController.GetBindingStatus)

	syncLogger.Println("API routes initialized successfully")
}

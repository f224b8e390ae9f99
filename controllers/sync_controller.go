package controller

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"rdmsync/models"
	syncpkg "rdmsync/sync"
	"rdmsync/utils"
	"rdmsync/worker"
)

type SyncController struct {
	DB     *gorm.DB
	Worker *worker.SyncWorker
	Job    *syncpkg.Job
	Logger *log.Logger
}

func NewSyncController(db *gorm.DB, w *worker.SyncWorker, job *syncpkg.Job, logger *log.Logger) *SyncController {
	return &SyncController{DB: db, Worker: w, Job: job, Logger: logger}
}

type TriggerSyncRequest struct {
	TeamID string `json:"team_id" validate:"required"`
}

// TriggerTeamSync enqueues a full sync cycle for one team.
func (sc *SyncController) TriggerTeamSync(c *fiber.Ctx) error {
	var req TriggerSyncRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var opt models.TeamOption
	if err := sc.DB.Where("team_id = ?", req.TeamID).First(&opt).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Team not found",
		})
	}
	if !opt.Enabled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Team synchronization is disabled",
		})
	}

	sc.Logger.Printf("Manual sync trigger for team %s by %v", opt.TeamID, c.Locals("subject"))
	sc.Worker.Enqueue(context.Background(), []string{opt.TeamID})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "queued",
		"team_id": opt.TeamID,
	})
}

// TriggerMetadataSync runs the institution-wide title/contributor re-sync
// in the background.
func (sc *SyncController) TriggerMetadataSync(c *fiber.Ctx) error {
	sc.Logger.Printf("Manual metadata sync trigger by %v", c.Locals("subject"))
	go sc.Job.SyncMetadata(context.Background())

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "started",
	})
}

// GetBindingStatus reports the storage binding for a project.
func (sc *SyncController) GetBindingStatus(c *fiber.Ctx) error {
	guid := c.Params("guid")

	var project models.Project
	if err := sc.DB.Where("guid = ?", guid).First(&project).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Project not found",
		})
	}

	var binding models.ProjectStorageBinding
	if err := sc.DB.Where("project_id = ?", project.ID).First(&binding).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.JSON(fiber.Map{
				"project_guid": project.GUID,
				"provisioned":  false,
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load binding",
		})
	}

	return c.JSON(fiber.Map{
		"project_guid":     project.GUID,
		"provisioned":      binding.Complete(),
		"team_folder_name": binding.TeamFolderName,
		"group_name":       binding.GroupName,
		"cursor_reset":     binding.ChangeCursor == nil,
	})
}

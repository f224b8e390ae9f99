package controller

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"rdmsync/models"
	"rdmsync/utils"
)

// TeamController registers institution Dropbox Business teams. Tokens
// arrive in plaintext over the authenticated admin channel and are
// persisted AES-encrypted; nothing else in the service stores them raw.
type TeamController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewTeamController(db *gorm.DB, logger *log.Logger) *TeamController {
	return &TeamController{DB: db, Logger: logger}
}

type RegisterTeamRequest struct {
	InstitutionGUID string `json:"institution_guid" validate:"required"`
	TeamID          string `json:"team_id" validate:"required"`
	TeamName        string `json:"team_name"`
	ManagementToken string `json:"management_token" validate:"required"`
	FileAccessToken string `json:"file_access_token" validate:"required"`
	RefreshToken    string `json:"refresh_token"`
}

// RegisterTeam creates or replaces the team record for an institution.
// Re-registering with a different team id resets the stored cursors and
// template cache, since they are scoped to the old team.
func (tc *TeamController) RegisterTeam(c *fiber.Ctx) error {
	var req RegisterTeamRequest
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

	var institution models.Institution
	if err := tc.DB.Where("guid = ?", req.InstitutionGUID).First(&institution).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Institution not found",
		})
	}

	mgmtToken, err := utils.Encrypt(req.ManagementToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt tokens",
		})
	}
	fileToken, err := utils.Encrypt(req.FileAccessToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt tokens",
		})
	}
	refreshToken, err := utils.Encrypt(req.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encrypt tokens",
		})
	}

	var opt models.TeamOption
	err = tc.DB.Where("institution_id = ?", institution.ID).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		opt = models.TeamOption{
			InstitutionID:   institution.ID,
			TeamID:          req.TeamID,
			TeamName:        req.TeamName,
			ManagementToken: mgmtToken,
			FileAccessToken: fileToken,
			RefreshToken:    refreshToken,
			Enabled:         true,
		}
		if err := tc.DB.Create(&opt).Error; err != nil {
			tc.Logger.Printf("Error creating team record for institution %s: %v", institution.GUID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to register team",
			})
		}
		tc.Logger.Printf("Registered team %s for institution %s", opt.TeamID, institution.GUID)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"team_id":          opt.TeamID,
			"institution_guid": institution.GUID,
			"enabled":          opt.Enabled,
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load team record",
		})
	}

	if opt.TeamID != req.TeamID {
		opt.ChangeCursor = nil
		opt.TimestampTemplateID = nil
	}
	opt.TeamID = req.TeamID
	opt.TeamName = req.TeamName
	opt.ManagementToken = mgmtToken
	opt.FileAccessToken = fileToken
	opt.RefreshToken = refreshToken
	opt.Enabled = true
	if err := tc.DB.Save(&opt).Error; err != nil {
		tc.Logger.Printf("Error updating team record for institution %s: %v", institution.GUID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to register team",
		})
	}
	tc.Logger.Printf("Updated team %s for institution %s", opt.TeamID, institution.GUID)
	return c.JSON(fiber.Map{
		"team_id":          opt.TeamID,
		"institution_guid": institution.GUID,
		"enabled":          opt.Enabled,
	})
}

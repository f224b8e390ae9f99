package controller

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rdmsync/config"
	"rdmsync/models"
	"rdmsync/utils"
)

func newTeamApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	config.AppConfig.EncryptionKey = "0123456789abcdef0123456789abcdef"

	db := testDB(t)
	tc := NewTeamController(db, testLogger())
	app := fiber.New()
	app.Post("/teams", tc.RegisterTeam)
	return app, db
}

func registerBody(institutionGUID, teamID string) string {
	return `{
		"institution_guid": "` + institutionGUID + `",
		"team_id": "` + teamID + `",
		"team_name": "Research Team",
		"management_token": "mgmt-plain",
		"file_access_token": "file-plain",
		"refresh_token": "refresh-plain"
	}`
}

func TestRegisterTeamStoresEncryptedTokens(t *testing.T) {
	app, db := newTeamApp(t)
	require.NoError(t, db.Create(&models.Institution{Name: "Uni", GUID: "inst-1"}).Error)

	req := httptest.NewRequest("POST", "/teams", strings.NewReader(registerBody("inst-1", "dbtid:new")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var opt models.TeamOption
	require.NoError(t, db.Where("team_id = ?", "dbtid:new").First(&opt).Error)
	assert.True(t, opt.Enabled)

	// Tokens must not land in the database as plaintext, and must
	// decrypt back to what was submitted.
	assert.NotEqual(t, "mgmt-plain", opt.ManagementToken)
	assert.NotEqual(t, "file-plain", opt.FileAccessToken)
	assert.NotEqual(t, "refresh-plain", opt.RefreshToken)

	mgmt, err := utils.Decrypt(opt.ManagementToken)
	require.NoError(t, err)
	assert.Equal(t, "mgmt-plain", mgmt)
	file, err := utils.Decrypt(opt.FileAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "file-plain", file)
	refresh, err := utils.Decrypt(opt.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-plain", refresh)
}

func TestRegisterTeamUnknownInstitution(t *testing.T) {
	app, _ := newTeamApp(t)

	req := httptest.NewRequest("POST", "/teams", strings.NewReader(registerBody("no-such", "dbtid:new")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestRegisterTeamValidatesRequiredFields(t *testing.T) {
	app, _ := newTeamApp(t)

	req := httptest.NewRequest("POST", "/teams", strings.NewReader(`{"institution_guid": "inst-1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRegisterTeamNewTeamIDResetsCursorState(t *testing.T) {
	app, db := newTeamApp(t)
	require.NoError(t, db.Create(&models.Institution{Name: "Uni", GUID: "inst-1"}).Error)

	cursor := "c-old"
	templateID := "ptid:old"
	old := models.TeamOption{
		InstitutionID:       1,
		TeamID:              "dbtid:old",
		ManagementToken:     "x",
		FileAccessToken:     "x",
		ChangeCursor:        &cursor,
		TimestampTemplateID: &templateID,
		Enabled:             true,
	}
	require.NoError(t, db.Create(&old).Error)

	req := httptest.NewRequest("POST", "/teams", strings.NewReader(registerBody("inst-1", "dbtid:new")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var opt models.TeamOption
	require.NoError(t, db.First(&opt, old.ID).Error)
	assert.Equal(t, "dbtid:new", opt.TeamID)
	assert.Nil(t, opt.ChangeCursor, "cursors from the old team must not survive")
	assert.Nil(t, opt.TimestampTemplateID)
}

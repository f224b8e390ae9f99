package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"rdmsync/models"
	"rdmsync/utils"
)

// LocalProjectSystem is the gorm-backed implementation of the project
// platform contract. Timestamp tokens are HMAC assertions signed with the
// configured authority key; they stand in for the platform's external
// timestamp authority and carry a validity window.
type LocalProjectSystem struct {
	DB           *gorm.DB
	AuthorityKey []byte
	TokenTTL     time.Duration
}

func NewLocalProjectSystem(db *gorm.DB, authorityKey []byte) *LocalProjectSystem {
	return &LocalProjectSystem{
		DB:           db,
		AuthorityKey: authorityKey,
		TokenTTL:     365 * 24 * time.Hour,
	}
}

func (s *LocalProjectSystem) WithTx(tx *gorm.DB) ProjectSystem {
	clone := *s
	clone.DB = tx
	return &clone
}

func (s *LocalProjectSystem) GetOrCreateFileNode(ctx context.Context, projectID uint, provider, path string) (*models.FileNode, bool, error) {
	node := &models.FileNode{}
	err := s.DB.WithContext(ctx).
		Where("project_id = ? AND provider = ? AND path = ?", projectID, provider, path).
		First(node).Error
	if err == nil {
		return node, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	node = &models.FileNode{ProjectID: projectID, Provider: provider, Path: path}
	if err := s.DB.WithContext(ctx).Create(node).Error; err != nil {
		return nil, false, err
	}
	return node, true, nil
}

func (s *LocalProjectSystem) UpdateFileNode(ctx context.Context, node *models.FileNode, info FileInfo) error {
	node.Name = info.Name
	node.Size = info.Size
	node.ContentHash = info.ContentHash
	node.LastModified = info.Modified
	return s.DB.WithContext(ctx).Save(node).Error
}

func (s *LocalProjectSystem) CoveringTimestamp(ctx context.Context, node *models.FileNode, info FileInfo) (*models.FileTimestamp, error) {
	var stamps []models.FileTimestamp
	err := s.DB.WithContext(ctx).
		Where("file_node_id = ? AND content_hash = ?", node.ID, info.ContentHash).
		Find(&stamps).Error
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range stamps {
		if stamps[i].Covers(info.ContentHash, info.Size, now) && s.verifyToken(&stamps[i]) {
			return &stamps[i], nil
		}
	}
	return nil, nil
}

func (s *LocalProjectSystem) MintTimestamp(ctx context.Context, userID *uint, node *models.FileNode, info FileInfo) (*models.FileTimestamp, error) {
	issued := time.Now()
	expires := issued.Add(s.TokenTTL)
	stamp := &models.FileTimestamp{
		FileNodeID:  node.ID,
		UserID:      userID,
		ContentHash: info.ContentHash,
		Size:        info.Size,
		ExpiresAt:   &expires,
	}
	stamp.Token = s.sign(stamp, issued)
	if err := s.DB.WithContext(ctx).Create(stamp).Error; err != nil {
		return nil, err
	}
	return stamp, nil
}

func (s *LocalProjectSystem) AddAuditLog(ctx context.Context, projectID uint, action string, params map[string]interface{}) error {
	entry := models.AuditLog{
		ProjectID: projectID,
		Action:    action,
		Params:    utils.MustJSON(params),
	}
	return s.DB.WithContext(ctx).Create(&entry).Error
}

func (s *LocalProjectSystem) ResolveUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if externalID == "" {
		return nil, nil
	}
	user := &models.User{}
	err := s.DB.WithContext(ctx).Where("external_account_id = ?", externalID).First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// sign binds the content identity and expiry into the token so a token
// row cannot be retargeted at different content.
func (s *LocalProjectSystem) sign(stamp *models.FileTimestamp, issued time.Time) string {
	mac := hmac.New(sha256.New, s.AuthorityKey)
	fmt.Fprintf(mac, "%d|%s|%d|%d|%d", stamp.FileNodeID, stamp.ContentHash, stamp.Size, issued.Unix(), stamp.ExpiresAt.Unix())
	return hex.EncodeToString(mac.Sum(nil)) + ":" + strconv.FormatInt(issued.Unix(), 10)
}

func (s *LocalProjectSystem) verifyToken(stamp *models.FileTimestamp) bool {
	sig, issuedStr, ok := strings.Cut(stamp.Token, ":")
	if !ok {
		return false
	}
	issuedUnix, err := strconv.ParseInt(issuedStr, 10, 64)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.AuthorityKey)
	fmt.Fprintf(mac, "%d|%s|%d|%d|%d", stamp.FileNodeID, stamp.ContentHash, stamp.Size, issuedUnix, stamp.ExpiresAt.Unix())
	return hmac.Equal([]byte(sig), []byte(hex.EncodeToString(mac.Sum(nil))))
}

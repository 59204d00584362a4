// Package identity is a thin, database-backed implementation of the
// identity/authorization collaborator the core consumes. Deployments that
// embed the core into a larger host can swap it for their own.
package identity

import (
	"errors"
	"fmt"

	"bitwise74/stream-vault/internal/authz"

	"gorm.io/gorm"
)

// Collection groups assets and carries the visibility flag view checks
// depend on.
type Collection struct {
	ID      string `gorm:"primaryKey" json:"id"`
	Name    string `json:"name"`
	Visible bool   `gorm:"default:true" json:"visible"`
}

// Membership enrolls a user in a collection with a role. A membership with
// an empty collection ID is site-wide.
type Membership struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CollectionID string `gorm:"index" json:"collection_id"`
	UserID       string `gorm:"index;not null" json:"user_id"`
	Role         string `gorm:"not null" json:"role"`
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleMember  = "member"
)

// roleCaps maps a role to the capabilities it grants within its collection
var roleCaps = map[string][]string{
	RoleAdmin:   {authz.CapViewHidden, authz.CapManageFiles, authz.CapUpdateContent},
	RoleManager: {authz.CapViewHidden, authz.CapManageFiles, authz.CapUpdateContent},
	RoleMember:  {},
}

type Provider struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Provider {
	return &Provider{DB: db}
}

// HasCapability reports whether the caller holds a capability in the given
// collection. CapSiteAdmin ignores the collection and checks for a
// site-wide admin membership instead.
func (p *Provider) HasCapability(capability, collectionID, callerID string) bool {
	if callerID == "" {
		return false
	}

	if capability == authz.CapSiteAdmin {
		return p.roleOf("", callerID) == RoleAdmin
	}

	role := p.roleOf(collectionID, callerID)
	if role == "" {
		return false
	}

	for _, c := range roleCaps[role] {
		if c == capability {
			return true
		}
	}

	return false
}

func (p *Provider) IsEnrolled(collectionID, callerID string) bool {
	if callerID == "" || collectionID == "" {
		return false
	}

	return p.roleOf(collectionID, callerID) != ""
}

func (p *Provider) Collection(collectionID string) (*authz.CollectionInfo, error) {
	if collectionID == "" {
		return nil, errors.New("no collection ID provided")
	}

	var col Collection

	err := p.DB.Where("id = ?", collectionID).First(&col).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("collection %q does not exist", collectionID)
		}

		return nil, fmt.Errorf("failed to look up collection, %w", err)
	}

	return &authz.CollectionInfo{ID: col.ID, Visible: col.Visible}, nil
}

func (p *Provider) roleOf(collectionID, callerID string) string {
	var role string

	err := p.DB.
		Model(Membership{}).
		Where("collection_id = ? AND user_id = ?", collectionID, callerID).
		Select("role").
		First(&role).
		Error
	if err != nil {
		return ""
	}

	return role
}

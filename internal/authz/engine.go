// Package authz decides whether a caller may view, download or manage an
// asset. Decisions are pure, side effects like audit logging belong to the
// caller.
package authz

import (
	"fmt"
	"strings"
	"time"

	"bitwise74/stream-vault/internal/model"

	"github.com/jellydator/ttlcache/v2"
)

type Action string

const (
	ActionView     Action = "view"
	ActionDownload Action = "download"
	ActionManage   Action = "manage"
)

// Capability names understood by the identity collaborator
const (
	CapSiteAdmin     = "site:admin"
	CapViewHidden    = "collection:view_hidden"
	CapManageFiles   = "collection:manage_files"
	CapUpdateContent = "collection:update_content"
)

// Stable reason codes surfaced to callers
const (
	ReasonOwner             = "owner"
	ReasonAdmin             = "admin"
	ReasonEnrolled          = "enrolled"
	ReasonInvalidCollection = "invalid_collection"
	ReasonNotEnrolled       = "not_enrolled"
	ReasonCollectionHidden  = "collection_hidden"
	ReasonInsufficientPerms = "insufficient_permissions"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// CollectionInfo is what the engine needs to know about an asset's
// enclosing collection.
type CollectionInfo struct {
	ID      string
	Visible bool
}

// Provider is the identity/authorization collaborator. Implemented outside
// the core, consumed here.
type Provider interface {
	HasCapability(capability, collectionID, callerID string) bool
	IsEnrolled(collectionID, callerID string) bool
	Collection(collectionID string) (*CollectionInfo, error)
}

type Engine struct {
	Provider Provider

	cache    *ttlcache.Cache
	cacheTTL time.Duration
}

// NewEngine builds an engine with its own decision cache. The cache is a
// dedicated instance so purging it can never clear unrelated subsystems.
func NewEngine(p Provider, cacheTTL time.Duration) *Engine {
	c := ttlcache.NewCache()
	c.SetTTL(cacheTTL)
	c.SkipTTLExtensionOnHit(true)

	return &Engine{
		Provider: p,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// Decide runs the authorization algorithm for one (action, asset, caller)
// triple. First match wins. Manage checks always bypass the cache since a
// stale allow there is a real escalation.
func (e *Engine) Decide(action Action, asset *model.Asset, callerID string) Decision {
	key := cacheKey(action, asset.ID, callerID)

	if action != ActionManage && e.cacheTTL > 0 {
		if v, err := e.cache.Get(key); err == nil {
			return v.(Decision)
		}
	}

	d := e.decide(action, asset, callerID)

	if action != ActionManage && e.cacheTTL > 0 {
		e.cache.Set(key, d)
	}

	return d
}

func (e *Engine) decide(action Action, asset *model.Asset, callerID string) Decision {
	if callerID != "" && callerID == asset.UserID {
		return Decision{Allowed: true, Reason: ReasonOwner}
	}

	if e.Provider.HasCapability(CapSiteAdmin, "", callerID) {
		return Decision{Allowed: true, Reason: ReasonAdmin}
	}

	col, err := e.Provider.Collection(asset.CollectionID)
	if err != nil || col == nil {
		return Decision{
			Reason:  ReasonInvalidCollection,
			Message: fmt.Sprintf("collection %q could not be resolved", asset.CollectionID),
		}
	}

	if !e.Provider.IsEnrolled(col.ID, callerID) {
		return Decision{
			Reason:  ReasonNotEnrolled,
			Message: "caller is not enrolled in the asset's collection",
		}
	}

	switch action {
	case ActionView:
		if col.Visible || e.Provider.HasCapability(CapViewHidden, col.ID, callerID) {
			return Decision{Allowed: true, Reason: ReasonEnrolled}
		}

		return Decision{
			Reason:  ReasonCollectionHidden,
			Message: "the asset's collection is hidden",
		}
	case ActionDownload:
		if e.Provider.HasCapability(CapManageFiles, col.ID, callerID) ||
			e.Provider.HasCapability(CapUpdateContent, col.ID, callerID) {
			return Decision{Allowed: true, Reason: ReasonEnrolled}
		}
	case ActionManage:
		if e.Provider.HasCapability(CapUpdateContent, col.ID, callerID) {
			return Decision{Allowed: true, Reason: ReasonEnrolled}
		}
	}

	return Decision{
		Reason:  ReasonInsufficientPerms,
		Message: fmt.Sprintf("caller lacks the capability required for %s", action),
	}
}

// InvalidateCaller drops every cached decision for one caller. Wired to
// role/enrollment change events by the surrounding glue.
func (e *Engine) InvalidateCaller(callerID string) {
	suffix := ":" + callerID

	for _, k := range e.cache.GetKeys() {
		if strings.HasSuffix(k, suffix) {
			e.cache.Remove(k)
		}
	}
}

// Close releases the cache's internal goroutine.
func (e *Engine) Close() {
	e.cache.Close()
}

func cacheKey(action Action, assetID, callerID string) string {
	return string(action) + ":" + assetID + ":" + callerID
}

// Package limits resolves the effective upload cap for a (user, kind) pair:
// per-user override, then the global settings document, then the hardcoded
// default. All fallback constants live here; no other package hardcodes a cap.
package limits

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

const (
	// DefaultGalleryLimit and DefaultDocLimit apply when neither a per-user
	// override nor a global setting exists.
	DefaultGalleryLimit = 15
	DefaultDocLimit     = 10

	// MinLimit is the smallest limit an admin may configure. Zero is rejected:
	// "no uploads allowed" is expressed by deactivating the account, not by a
	// zero quota.
	MinLimit = 1
)

// Default returns the hardcoded fallback for the given kind.
func Default(kind models.ItemKind) int {
	switch kind {
	case models.ItemKindGallery:
		return DefaultGalleryLimit
	case models.ItemKindDoc:
		return DefaultDocLimit
	}
	return DefaultDocLimit
}

// ValidLimit reports whether v is acceptable as an admin-configured limit.
func ValidLimit(v int) bool {
	return v >= MinLimit
}

// Resolver produces effective limits. It is read-only and never fails: a store
// error at one tier degrades to the next one.
type Resolver struct {
	store store.Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve returns the effective limit for the user and kind. An empty userID
// resolves against the global tier only. The result is always >= 1.
func (r *Resolver) Resolve(ctx context.Context, userID string, kind models.ItemKind) int {
	if userID != "" {
		var user models.User
		err := r.store.Get(ctx, store.CollectionUsers, userID, &user)
		switch {
		case err == nil:
			if override := user.Override(kind); override != nil && *override >= MinLimit {
				return *override
			}
		case err != store.ErrNotFound:
			log.Warn().Err(err).Str("user_id", userID).Msg("limit resolution: user read failed, using global tier")
		}
	}

	var global models.GlobalLimits
	err := r.store.Get(ctx, store.CollectionSettings, store.DocGlobalLimits, &global)
	switch {
	case err == nil:
		if v := global.Limit(kind); v >= MinLimit {
			return v
		}
	case err != store.ErrNotFound:
		log.Warn().Err(err).Msg("limit resolution: global settings read failed, using default")
	}

	return Default(kind)
}

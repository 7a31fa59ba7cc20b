// Package admission gates writes of upload items against per-user quotas.
//
// The write path is deliberately check-then-write: the current count is
// re-read immediately before each append, but nothing spans the read and the
// write, so concurrent batches can overshoot the cap by a small margin. When
// strict mode is enabled the count check and the append collapse into one
// conditional store write and the overshoot window disappears.
package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/limits"
	"github.com/caneko-app/caneko-server/internal/metrics"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

// ReasonCode classifies why a file or batch was rejected.
type ReasonCode string

const (
	ReasonNoUser               ReasonCode = "no_user"
	ReasonBatchExceedsLimit    ReasonCode = "batch_exceeds_limit"
	ReasonWrongType            ReasonCode = "wrong_type"
	ReasonTooLarge             ReasonCode = "too_large"
	ReasonLimitReachedMidBatch ReasonCode = "limit_reached_mid_batch"
	ReasonWriteFailed          ReasonCode = "write_failed"
)

var (
	// ErrInvalidLimit is returned for admin limit values below limits.MinLimit.
	ErrInvalidLimit = errors.New("admission: invalid limit value")

	// ErrNotAdmin is returned when a limit update is attempted by a non-admin.
	ErrNotAdmin = errors.New("admission: admin privileges required")

	// ErrNotAllowed is returned when an actor touches items they do not own.
	ErrNotAllowed = errors.New("admission: not allowed")

	// ErrUnknownKind is returned for an item kind outside gallery/doc.
	ErrUnknownKind = errors.New("admission: unknown item kind")
)

// File is one candidate upload from a batch, in selection order.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Rejection records one refused file together with the context the UI needs
// to phrase the message.
type Rejection struct {
	Name      string     `json:"name"`
	Reason    ReasonCode `json:"reason"`
	Available int        `json:"available"`
	Limit     int        `json:"limit"`
}

// Result partitions a batch into admitted items and rejections.
type Result struct {
	Accepted []models.UploadItem `json:"accepted"`
	Rejected []Rejection         `json:"rejected"`
}

// Config tunes the admission ceilings and the write mode.
type Config struct {
	// MaxSourceBytes caps the raw uploaded file size for both kinds.
	MaxSourceBytes int64
	// MaxEncodedBytes caps the recompressed payload for gallery items.
	MaxEncodedBytes int64
	// Strict switches each admitted write to a single conditional append.
	Strict bool
}

// Controller is the admission gate for a user's upload collections.
type Controller struct {
	store    store.Store
	resolver *limits.Resolver
	cfg      Config
}

// New creates a controller over the given store and resolver.
func New(s store.Store, r *limits.Resolver, cfg Config) *Controller {
	return &Controller{store: s, resolver: r, cfg: cfg}
}

// AdmitBatch applies the full admission sequence to the batch: whole-batch
// capacity pre-check, per-file validation, and a per-file count re-check
// immediately before each write. Files are processed in order and writes are
// sequential; parallelizing them would make the mid-batch re-check meaningless.
//
// The returned error covers only the initial capacity read; everything after
// that is reported per file inside the Result.
func (c *Controller) AdmitBatch(ctx context.Context, userID string, kind models.ItemKind, files []File) (*Result, error) {
	result := &Result{}

	if userID == "" {
		for _, f := range files {
			result.Rejected = append(result.Rejected, Rejection{Name: f.Name, Reason: ReasonNoUser})
		}
		countRejections(kind, ReasonNoUser, len(files))
		return result, nil
	}

	collection, field := store.ItemLocation(kind)
	if collection == "" {
		return nil, ErrUnknownKind
	}

	count, err := c.store.Count(ctx, collection, userID, field)
	if err != nil {
		return nil, fmt.Errorf("failed to read current %s count: %w", kind, err)
	}

	limit := c.resolver.Resolve(ctx, userID, kind)
	available := limit - count
	if available < 0 {
		available = 0
	}

	// Over-sized batches are refused in full. Partial admission of a batch the
	// user selected as a unit is worse than asking them to reselect.
	if len(files) > available {
		for _, f := range files {
			result.Rejected = append(result.Rejected, Rejection{
				Name:      f.Name,
				Reason:    ReasonBatchExceedsLimit,
				Available: available,
				Limit:     limit,
			})
		}
		countRejections(kind, ReasonBatchExceedsLimit, len(files))
		return result, nil
	}

	for i, f := range files {
		item, reason := c.prepare(f, kind)
		if reason != "" {
			// Invalid files are skipped without consuming a slot.
			result.Rejected = append(result.Rejected, Rejection{Name: f.Name, Reason: reason, Limit: limit})
			countRejections(kind, reason, 1)
			continue
		}

		written, reason := c.write(ctx, collection, userID, field, item, limit)
		if reason == ReasonLimitReachedMidBatch {
			// Capacity ran out under us; the rest of the batch cannot fit either.
			for _, rest := range files[i:] {
				result.Rejected = append(result.Rejected, Rejection{
					Name:   rest.Name,
					Reason: ReasonLimitReachedMidBatch,
					Limit:  limit,
				})
			}
			countRejections(kind, ReasonLimitReachedMidBatch, len(files)-i)
			break
		}
		if !written {
			result.Rejected = append(result.Rejected, Rejection{Name: f.Name, Reason: reason})
			countRejections(kind, reason, 1)
			continue
		}

		result.Accepted = append(result.Accepted, item)
		metrics.UploadsAdmittedTotal.WithLabelValues(string(kind)).Inc()
		metrics.UploadSizeBytes.WithLabelValues(string(kind)).Observe(float64(len(f.Data)))
	}

	return result, nil
}

// prepare validates the file and builds the item that would be stored.
func (c *Controller) prepare(f File, kind models.ItemKind) (models.UploadItem, ReasonCode) {
	if int64(len(f.Data)) > c.cfg.MaxSourceBytes {
		return models.UploadItem{}, ReasonTooLarge
	}

	item := models.UploadItem{
		ID:        uuid.New().String(),
		Name:      f.Name,
		CreatedAt: time.Now().UTC(),
	}

	switch kind {
	case models.ItemKindGallery:
		if !strings.HasPrefix(f.MimeType, "image/") {
			return models.UploadItem{}, ReasonWrongType
		}
		encoded, err := recompressImage(f.Data)
		if err != nil {
			return models.UploadItem{}, ReasonWrongType
		}
		if int64(len(encoded)) > c.cfg.MaxEncodedBytes {
			return models.UploadItem{}, ReasonTooLarge
		}
		item.MimeType = "image/jpeg"
		item.DataURI = dataURI("image/jpeg", encoded)
	case models.ItemKindDoc:
		if f.MimeType != "application/pdf" {
			return models.UploadItem{}, ReasonWrongType
		}
		item.MimeType = f.MimeType
		item.DataURI = dataURI(f.MimeType, f.Data)
	}

	return item, ""
}

// write performs the guarded append for one item. In strict mode the guard is
// a conditional write on the store; otherwise the count is re-read just before
// the append and the gap between the two stays open.
func (c *Controller) write(ctx context.Context, collection, userID, field string, item models.UploadItem, limit int) (bool, ReasonCode) {
	if c.cfg.Strict {
		err := c.store.AppendBounded(ctx, collection, userID, field, item, limit)
		if err == store.ErrLimitExceeded {
			return false, ReasonLimitReachedMidBatch
		}
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("item write failed")
			return false, ReasonWriteFailed
		}
		return true, ""
	}

	count, err := c.store.Count(ctx, collection, userID, field)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("pre-write count failed")
		return false, ReasonWriteFailed
	}
	if count >= limit {
		return false, ReasonLimitReachedMidBatch
	}

	if err := c.store.Append(ctx, collection, userID, field, item); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("item write failed")
		return false, ReasonWriteFailed
	}
	return true, ""
}

// RemoveItem deletes one item from the owner's collection. Removal is never
// limit-gated; it only frees capacity.
func (c *Controller) RemoveItem(ctx context.Context, actor *models.User, ownerID string, kind models.ItemKind, itemID string) error {
	if actor == nil {
		return ErrNotAllowed
	}
	if actor.ID != ownerID && actor.Role != models.UserRoleAdmin {
		return ErrNotAllowed
	}

	collection, field := store.ItemLocation(kind)
	if collection == "" {
		return ErrUnknownKind
	}

	if err := c.store.Remove(ctx, collection, ownerID, field, store.Match{"id": itemID}); err != nil {
		return err
	}
	metrics.ItemsRemovedTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

// Usage reports the stored item count and the effective limit for the user.
func (c *Controller) Usage(ctx context.Context, userID string, kind models.ItemKind) (count, limit int, err error) {
	collection, field := store.ItemLocation(kind)
	if collection == "" {
		return 0, 0, ErrUnknownKind
	}
	count, err = c.store.Count(ctx, collection, userID, field)
	if err != nil {
		return 0, 0, err
	}
	return count, c.resolver.Resolve(ctx, userID, kind), nil
}

// UpdateGlobalLimit sets the global default for the kind. Existing per-user
// overrides keep winning; use CascadeLimit to reset those too.
func (c *Controller) UpdateGlobalLimit(ctx context.Context, actor *models.User, kind models.ItemKind, newLimit int) error {
	if err := checkLimitUpdate(actor, kind, newLimit); err != nil {
		return err
	}

	err := c.store.Set(ctx, store.CollectionSettings, store.DocGlobalLimits,
		map[string]interface{}{limitField(kind): newLimit}, true)
	if err != nil {
		return err
	}
	metrics.LimitUpdatesTotal.WithLabelValues("global").Inc()
	return nil
}

// UpdateUserLimit sets a per-user override for the kind.
func (c *Controller) UpdateUserLimit(ctx context.Context, actor *models.User, targetUserID string, kind models.ItemKind, newLimit int) error {
	if err := checkLimitUpdate(actor, kind, newLimit); err != nil {
		return err
	}

	var target models.User
	if err := c.store.Get(ctx, store.CollectionUsers, targetUserID, &target); err != nil {
		return err
	}

	err := c.store.Set(ctx, store.CollectionUsers, targetUserID,
		map[string]interface{}{limitField(kind): newLimit}, true)
	if err != nil {
		return err
	}
	metrics.LimitUpdatesTotal.WithLabelValues("user").Inc()
	return nil
}

// CascadeLimit writes the new global default and overwrites every existing
// user's override for the kind. This discards prior per-user customization;
// it is a separate operation so a plain global update never does it silently.
func (c *Controller) CascadeLimit(ctx context.Context, actor *models.User, kind models.ItemKind, newLimit int) error {
	if err := checkLimitUpdate(actor, kind, newLimit); err != nil {
		return err
	}

	field := limitField(kind)
	err := c.store.Set(ctx, store.CollectionSettings, store.DocGlobalLimits,
		map[string]interface{}{field: newLimit}, true)
	if err != nil {
		return err
	}
	if err := c.store.SetFieldAll(ctx, store.CollectionUsers, field, newLimit); err != nil {
		return err
	}
	metrics.LimitUpdatesTotal.WithLabelValues("cascade").Inc()
	return nil
}

func checkLimitUpdate(actor *models.User, kind models.ItemKind, newLimit int) error {
	if actor == nil || actor.Role != models.UserRoleAdmin {
		return ErrNotAdmin
	}
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if !limits.ValidLimit(newLimit) {
		return ErrInvalidLimit
	}
	return nil
}

func limitField(kind models.ItemKind) string {
	if kind == models.ItemKindGallery {
		return "galleryLimit"
	}
	return "docLimit"
}

func countRejections(kind models.ItemKind, reason ReasonCode, n int) {
	metrics.UploadsRejectedTotal.WithLabelValues(string(kind), string(reason)).Add(float64(n))
}

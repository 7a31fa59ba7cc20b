package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caneko-app/caneko-server/internal/limits"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

func testConfig() Config {
	return Config{
		MaxSourceBytes:  2 << 20,
		MaxEncodedBytes: 1 << 20,
	}
}

func newController(mem *store.Memory, cfg Config) *Controller {
	return New(mem, limits.NewResolver(mem), cfg)
}

// makePNG renders a solid PNG of the given dimensions.
func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngFile(t *testing.T, name string) File {
	return File{Name: name, MimeType: "image/png", Data: makePNG(t, 64, 48)}
}

func pdfFile(name string) File {
	return File{Name: name, MimeType: "application/pdf", Data: []byte("%PDF-1.4 test")}
}

func seedGallery(t *testing.T, mem *store.Memory, userID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		item := models.UploadItem{ID: fmt.Sprintf("seed-%d", i), Name: "seed.jpg"}
		require.NoError(t, mem.Append(ctx, store.CollectionGalleries, userID, "images", item))
	}
}

func setGlobalLimits(t *testing.T, mem *store.Memory, gallery, doc int) {
	t.Helper()
	err := mem.Set(context.Background(), store.CollectionSettings, store.DocGlobalLimits,
		models.GlobalLimits{GalleryLimit: gallery, DocLimit: doc}, false)
	require.NoError(t, err)
}

func TestAdmitBatchNoUser(t *testing.T) {
	ctrl := newController(store.NewMemory(), testConfig())

	result, err := ctrl.AdmitBatch(context.Background(), "", models.ItemKindGallery,
		[]File{pngFile(t, "a.png"), pngFile(t, "b.png")})
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 2)
	for _, r := range result.Rejected {
		assert.Equal(t, ReasonNoUser, r.Reason)
	}
}

func TestAdmitBatchExceedsLimit(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 3, 10)
	seedGallery(t, mem, "u1", 2)
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	// Two files against one free slot: the whole batch is refused.
	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery,
		[]File{pngFile(t, "a.png"), pngFile(t, "b.png")})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 2)
	for _, r := range result.Rejected {
		assert.Equal(t, ReasonBatchExceedsLimit, r.Reason)
		assert.Equal(t, 1, r.Available)
		assert.Equal(t, 3, r.Limit)
	}

	// A rejected batch must not have consumed anything: one file still fits.
	result, err = ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery, []File{pngFile(t, "a.png")})
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)

	// Now the collection is full.
	result, err = ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery, []File{pngFile(t, "c.png")})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, ReasonBatchExceedsLimit, result.Rejected[0].Reason)
	assert.Equal(t, 0, result.Rejected[0].Available)
}

func TestAdmitBatchGalleryRecompresses(t *testing.T) {
	mem := store.NewMemory()
	ctrl := newController(mem, testConfig())

	result, err := ctrl.AdmitBatch(context.Background(), "u1", models.ItemKindGallery,
		[]File{pngFile(t, "photo.png")})
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	item := result.Accepted[0]
	assert.Equal(t, "photo.png", item.Name)
	assert.Equal(t, "image/jpeg", item.MimeType)
	assert.True(t, strings.HasPrefix(item.DataURI, "data:image/jpeg;base64,"))
	assert.NotEmpty(t, item.ID)

	count, err := mem.Count(context.Background(), store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdmitBatchInvalidFilesDoNotConsumeSlots(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 3, 10)
	ctrl := newController(mem, testConfig())

	files := []File{
		pngFile(t, "ok1.png"),
		pdfFile("not-an-image.pdf"), // wrong type for the gallery
		pngFile(t, "ok2.png"),
	}
	result, err := ctrl.AdmitBatch(context.Background(), "u1", models.ItemKindGallery, files)
	require.NoError(t, err)

	assert.Len(t, result.Accepted, 2)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "not-an-image.pdf", result.Rejected[0].Name)
	assert.Equal(t, ReasonWrongType, result.Rejected[0].Reason)

	count, err := mem.Count(context.Background(), store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAdmitBatchUndecodableImage(t *testing.T) {
	ctrl := newController(store.NewMemory(), testConfig())

	// Claims to be an image but does not decode.
	files := []File{{Name: "broken.png", MimeType: "image/png", Data: []byte("not an image")}}
	result, err := ctrl.AdmitBatch(context.Background(), "u1", models.ItemKindGallery, files)
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, ReasonWrongType, result.Rejected[0].Reason)
}

func TestAdmitBatchTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSourceBytes = 1024
	ctrl := newController(store.NewMemory(), cfg)

	big := File{Name: "big.png", MimeType: "image/png", Data: bytes.Repeat([]byte{0xAA}, 2048)}
	result, err := ctrl.AdmitBatch(context.Background(), "u1", models.ItemKindGallery, []File{big})
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, ReasonTooLarge, result.Rejected[0].Reason)
}

func TestAdmitBatchEncodedCeiling(t *testing.T) {
	mem := store.NewMemory()
	cfg := testConfig()
	// Tighter than any JPEG re-encode can fit under.
	cfg.MaxEncodedBytes = 10
	ctrl := newController(mem, cfg)
	ctx := context.Background()

	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery,
		[]File{pngFile(t, "photo.png")})
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, ReasonTooLarge, result.Rejected[0].Reason)

	// The source passed the raw cap; only the recompressed payload tripped,
	// and the rejected file consumed no slot.
	count, err := mem.Count(ctx, store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRejectionReportsZeroAvailability(t *testing.T) {
	data, err := json.Marshal(Rejection{
		Name:      "a.png",
		Reason:    ReasonBatchExceedsLimit,
		Available: 0,
		Limit:     3,
	})
	require.NoError(t, err)

	// A full collection still tells the UI how full: available must survive
	// serialization even at zero.
	assert.Contains(t, string(data), `"available":0`)
	assert.Contains(t, string(data), `"limit":3`)
}

func TestAdmitBatchDocuments(t *testing.T) {
	mem := store.NewMemory()
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindDoc,
		[]File{pdfFile("passport.pdf"), pngFile(t, "photo.png")})
	require.NoError(t, err)

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "passport.pdf", result.Accepted[0].Name)
	assert.Equal(t, "application/pdf", result.Accepted[0].MimeType)
	assert.True(t, strings.HasPrefix(result.Accepted[0].DataURI, "data:application/pdf;base64,"))

	require.Len(t, result.Rejected, 1)
	assert.Equal(t, ReasonWrongType, result.Rejected[0].Reason)

	count, err := mem.Count(ctx, store.CollectionDocuments, "u1", "docs")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdmitBatchUnknownKind(t *testing.T) {
	ctrl := newController(store.NewMemory(), testConfig())

	_, err := ctrl.AdmitBatch(context.Background(), "u1", models.ItemKind("video"),
		[]File{pngFile(t, "a.png")})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestAdmitBatchCountFailure(t *testing.T) {
	mem := store.NewMemory()
	mem.OnRead = func(collection, id string) error {
		if collection == store.CollectionGalleries {
			return errors.New("connection reset")
		}
		return nil
	}
	ctrl := newController(mem, testConfig())

	_, err := ctrl.AdmitBatch(context.Background(), "u1", models.ItemKindGallery,
		[]File{pngFile(t, "a.png")})
	assert.Error(t, err)
}

func TestAdmitBatchLimitReachedMidBatch(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 2, 10)
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	// A competing upload lands right after the whole-batch capacity check.
	reads := 0
	mem.OnRead = func(collection, id string) error {
		if collection != store.CollectionGalleries {
			return nil
		}
		reads++
		if reads == 2 {
			competitor := models.UploadItem{ID: "competitor", Name: "rival.jpg"}
			return mem.Append(ctx, store.CollectionGalleries, "u1", "images", competitor)
		}
		return nil
	}

	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery,
		[]File{pngFile(t, "a.png"), pngFile(t, "b.png")})
	require.NoError(t, err)

	// The first file squeezed in next to the competitor, the second did not.
	assert.Len(t, result.Accepted, 1)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "b.png", result.Rejected[0].Name)
	assert.Equal(t, ReasonLimitReachedMidBatch, result.Rejected[0].Reason)

	count, err := mem.Count(ctx, store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAdmitBatchStrictModeConditionalWrite(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 1, 10)
	cfg := testConfig()
	cfg.Strict = true
	ctrl := newController(mem, cfg)
	ctx := context.Background()

	// In strict mode the competitor cannot slip past the conditional append.
	injected := false
	mem.OnWrite = func(collection, id string) error {
		if injected || collection != store.CollectionGalleries {
			return nil
		}
		injected = true
		competitor := models.UploadItem{ID: "competitor", Name: "rival.jpg"}
		return mem.Append(ctx, store.CollectionGalleries, "u1", "images", competitor)
	}

	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery, []File{pngFile(t, "a.png")})
	require.NoError(t, err)

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, ReasonLimitReachedMidBatch, result.Rejected[0].Reason)

	count, err := mem.Count(ctx, store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAdmitBatchWriteFailureContinues(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 10, 10)
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	failures := 1
	mem.OnWrite = func(collection, id string) error {
		if collection == store.CollectionGalleries && failures > 0 {
			failures--
			return errors.New("write timeout")
		}
		return nil
	}

	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery,
		[]File{pngFile(t, "a.png"), pngFile(t, "b.png")})
	require.NoError(t, err)

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "b.png", result.Accepted[0].Name)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "a.png", result.Rejected[0].Name)
	assert.Equal(t, ReasonWriteFailed, result.Rejected[0].Reason)
}

func TestRemoveItem(t *testing.T) {
	mem := store.NewMemory()
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	item := models.UploadItem{ID: "item-1", Name: "a.jpg"}
	require.NoError(t, mem.Append(ctx, store.CollectionGalleries, "u1", "images", item))

	owner := &models.User{ID: "u1", Role: models.UserRoleClient}
	stranger := &models.User{ID: "u2", Role: models.UserRoleClient}
	admin := &models.User{ID: "a1", Role: models.UserRoleAdmin}

	assert.ErrorIs(t, ctrl.RemoveItem(ctx, stranger, "u1", models.ItemKindGallery, "item-1"), ErrNotAllowed)
	assert.ErrorIs(t, ctrl.RemoveItem(ctx, nil, "u1", models.ItemKindGallery, "item-1"), ErrNotAllowed)

	require.NoError(t, ctrl.RemoveItem(ctx, owner, "u1", models.ItemKindGallery, "item-1"))
	count, err := mem.Count(ctx, store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Admins may remove from any collection; removing a gone item is fine.
	require.NoError(t, ctrl.RemoveItem(ctx, admin, "u1", models.ItemKindGallery, "item-1"))
}

func TestRemovalFreesCapacity(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 1, 10)
	ctrl := newController(mem, testConfig())
	ctx := context.Background()
	owner := &models.User{ID: "u1", Role: models.UserRoleClient}

	result, err := ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery, []File{pngFile(t, "a.png")})
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	// Full now.
	result, err = ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery, []File{pngFile(t, "b.png")})
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)

	// Removing the stored item opens the slot again.
	require.NoError(t, ctrl.RemoveItem(ctx, owner, "u1", models.ItemKindGallery, resultItemID(t, mem)))
	result, err = ctrl.AdmitBatch(ctx, "u1", models.ItemKindGallery, []File{pngFile(t, "b.png")})
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
}

func resultItemID(t *testing.T, mem *store.Memory) string {
	t.Helper()
	var doc models.GalleryDoc
	require.NoError(t, mem.Get(context.Background(), store.CollectionGalleries, "u1", &doc))
	require.NotEmpty(t, doc.Images)
	return doc.Images[0].ID
}

func TestUsage(t *testing.T) {
	mem := store.NewMemory()
	setGlobalLimits(t, mem, 5, 10)
	seedGallery(t, mem, "u1", 3)
	ctrl := newController(mem, testConfig())

	count, limit, err := ctrl.Usage(context.Background(), "u1", models.ItemKindGallery)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 5, limit)
}

func TestUpdateGlobalLimit(t *testing.T) {
	mem := store.NewMemory()
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	admin := &models.User{ID: "a1", Role: models.UserRoleAdmin}
	client := &models.User{ID: "u1", Role: models.UserRoleClient}

	assert.ErrorIs(t, ctrl.UpdateGlobalLimit(ctx, client, models.ItemKindGallery, 5), ErrNotAdmin)
	assert.ErrorIs(t, ctrl.UpdateGlobalLimit(ctx, nil, models.ItemKindGallery, 5), ErrNotAdmin)
	assert.ErrorIs(t, ctrl.UpdateGlobalLimit(ctx, admin, models.ItemKindGallery, 0), ErrInvalidLimit)
	assert.ErrorIs(t, ctrl.UpdateGlobalLimit(ctx, admin, models.ItemKind("video"), 5), ErrUnknownKind)

	require.NoError(t, ctrl.UpdateGlobalLimit(ctx, admin, models.ItemKindGallery, 5))

	resolver := limits.NewResolver(mem)
	assert.Equal(t, 5, resolver.Resolve(ctx, "u1", models.ItemKindGallery))
	// The doc limit is untouched.
	assert.Equal(t, limits.DefaultDocLimit, resolver.Resolve(ctx, "u1", models.ItemKindDoc))
}

func TestUpdateUserLimit(t *testing.T) {
	mem := store.NewMemory()
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	admin := &models.User{ID: "a1", Role: models.UserRoleAdmin}
	require.NoError(t, mem.Set(ctx, store.CollectionUsers, "u1", models.User{ID: "u1", Name: "Mia"}, false))

	assert.ErrorIs(t, ctrl.UpdateUserLimit(ctx, admin, "nobody", models.ItemKindGallery, 5), store.ErrNotFound)
	require.NoError(t, ctrl.UpdateUserLimit(ctx, admin, "u1", models.ItemKindGallery, 5))

	resolver := limits.NewResolver(mem)
	assert.Equal(t, 5, resolver.Resolve(ctx, "u1", models.ItemKindGallery))

	// The merge must not clobber the rest of the user document.
	var user models.User
	require.NoError(t, mem.Get(ctx, store.CollectionUsers, "u1", &user))
	assert.Equal(t, "Mia", user.Name)
}

func TestCascadeLimitOverridesUsers(t *testing.T) {
	mem := store.NewMemory()
	ctrl := newController(mem, testConfig())
	ctx := context.Background()

	admin := &models.User{ID: "a1", Role: models.UserRoleAdmin}
	require.NoError(t, mem.Set(ctx, store.CollectionUsers, "u1", models.User{ID: "u1"}, false))
	require.NoError(t, ctrl.UpdateUserLimit(ctx, admin, "u1", models.ItemKindGallery, 5))

	resolver := limits.NewResolver(mem)

	// A plain global update leaves the override winning.
	require.NoError(t, ctrl.UpdateGlobalLimit(ctx, admin, models.ItemKindGallery, 10))
	assert.Equal(t, 5, resolver.Resolve(ctx, "u1", models.ItemKindGallery))

	// A cascade rewrites the override too.
	require.NoError(t, ctrl.CascadeLimit(ctx, admin, models.ItemKindGallery, 8))
	assert.Equal(t, 8, resolver.Resolve(ctx, "u1", models.ItemKindGallery))
}

package main

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caneko-app/caneko-server/internal/admission"
	"github.com/caneko-app/caneko-server/internal/middleware"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/internal/tracing"
	"github.com/caneko-app/caneko-server/pkg/models"
)

func (api *API) uploadGallery(c *gin.Context) {
	api.uploadItems(c, models.ItemKindGallery)
}

func (api *API) uploadDocuments(c *gin.Context) {
	api.uploadItems(c, models.ItemKindDoc)
}

// uploadItems runs a multipart batch through the admission controller. The
// whole batch either fits the remaining quota or is refused; individual files
// can still be rejected for type or size.
func (api *API) uploadItems(c *gin.Context, kind models.ItemKind) {
	userID, _ := middleware.GetUserID(c)

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Multipart form required"})
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files provided"})
		return
	}

	span, ctx := tracing.StartSpan(c.Request.Context(), "uploadItems")
	tracing.SetTag(span, "kind", string(kind))
	tracing.SetTag(span, "batch_size", len(headers))
	defer tracing.FinishSpan(span)

	files := make([]admission.File, 0, len(headers))
	for _, h := range headers {
		data, err := readUpload(h, api.cfg.Admission.MaxSourceBytes)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
			return
		}
		files = append(files, admission.File{
			Name:     h.Filename,
			MimeType: h.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	result, err := api.controller.AdmitBatch(ctx, userID, kind, files)
	if err != nil {
		tracing.LogError(span, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}

	status := http.StatusCreated
	if len(result.Accepted) == 0 {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

// readUpload reads one uploaded file, allowing one byte past the source cap so
// the admission controller can classify the file as too large instead of the
// transport truncating it silently.
func readUpload(h *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxBytes+1))
}

func (api *API) listGallery(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var doc models.GalleryDoc
	err := api.store.Get(c.Request.Context(), store.CollectionGalleries, userID, &doc)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load gallery"})
		return
	}
	if doc.Images == nil {
		doc.Images = []models.UploadItem{}
	}

	c.JSON(http.StatusOK, gin.H{"images": doc.Images})
}

func (api *API) listDocuments(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var doc models.DocumentsDoc
	err := api.store.Get(c.Request.Context(), store.CollectionDocuments, userID, &doc)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load documents"})
		return
	}
	if doc.Docs == nil {
		doc.Docs = []models.UploadItem{}
	}

	c.JSON(http.StatusOK, gin.H{"docs": doc.Docs})
}

func (api *API) deleteGalleryItem(c *gin.Context) {
	api.deleteItem(c, models.ItemKindGallery, c.Param("itemID"))
}

func (api *API) deleteDocumentItem(c *gin.Context) {
	api.deleteItem(c, models.ItemKindDoc, c.Param("itemID"))
}

func (api *API) deleteItem(c *gin.Context, kind models.ItemKind, itemID string) {
	user, ok := api.currentUser(c)
	if !ok {
		return
	}

	err := api.controller.RemoveItem(c.Request.Context(), user, user.ID, kind, itemID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete item"})
	default:
		c.JSON(http.StatusOK, gin.H{"deleted": itemID})
	}
}

type usageResponse struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// getLimits reports the caller's current usage against their effective limits.
func (api *API) getLimits(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	span, ctx := tracing.StartSpan(c.Request.Context(), "getLimits")
	defer tracing.FinishSpan(span)

	resp := make(map[string]usageResponse, 2)
	for _, kind := range []models.ItemKind{models.ItemKindGallery, models.ItemKindDoc} {
		count, limit, err := api.controller.Usage(ctx, userID, kind)
		if err != nil {
			tracing.LogError(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read usage"})
			return
		}
		resp[string(kind)] = usageResponse{Count: count, Limit: limit}
	}

	c.JSON(http.StatusOK, resp)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caneko-app/caneko-server/internal/admission"
	"github.com/caneko-app/caneko-server/internal/auth"
	"github.com/caneko-app/caneko-server/internal/cache"
	"github.com/caneko-app/caneko-server/internal/config"
	"github.com/caneko-app/caneko-server/internal/limits"
	"github.com/caneko-app/caneko-server/internal/middleware"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

func setupAPI(t *testing.T) (*gin.Engine, *API, *store.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.SetJWTSecret("test-secret")

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	mem := store.NewMemory()
	cfg := &config.Config{
		Admission: config.AdmissionConfig{
			MaxSourceBytes:  2 << 20,
			MaxEncodedBytes: 1 << 20,
		},
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret",
			TokenTTL:        time.Hour,
			LockoutAttempts: 7,
			LockoutDuration: time.Hour,
		},
	}

	resolver := limits.NewResolver(mem)
	api := &API{
		store:    mem,
		cache:    c,
		auth:     auth.NewService(mem, c, cfg.Auth),
		resolver: resolver,
		controller: admission.New(mem, resolver, admission.Config{
			MaxSourceBytes:  cfg.Admission.MaxSourceBytes,
			MaxEncodedBytes: cfg.Admission.MaxEncodedBytes,
		}),
		cfg: cfg,
	}

	return setupRouter(api), api, mem
}

func seedAccount(t *testing.T, mem *store.Memory, id string, role models.UserRole) string {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)

	user := models.User{
		ID:           id,
		Name:         "Test " + id,
		Email:        id + "@example.com",
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	require.NoError(t, mem.Set(context.Background(), store.CollectionUsers, id, user, false))

	token, err := middleware.GenerateToken(&user, time.Hour)
	require.NoError(t, err)
	return token
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, files map[string][]byte, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func doRequest(router *gin.Engine, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginEndpoint(t *testing.T) {
	router, _, mem := setupAPI(t)
	seedAccount(t, mem, "u1", models.UserRoleClient)

	body := bytes.NewBufferString(`{"email":"u1@example.com","password":"correct horse"}`)
	w := doRequest(router, "POST", "/api/v1/auth/login", "", body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "u1", resp.User.ID)

	body = bytes.NewBufferString(`{"email":"u1@example.com","password":"wrong"}`)
	w = doRequest(router, "POST", "/api/v1/auth/login", "", body, "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGalleryUploadAndList(t *testing.T) {
	router, _, mem := setupAPI(t)
	token := seedAccount(t, mem, "u1", models.UserRoleClient)

	body, contentType := multipartBody(t, "files",
		map[string][]byte{"photo.png": smallPNG(t)}, "image/png")
	w := doRequest(router, "POST", "/api/v1/gallery", token, body, contentType)
	require.Equal(t, http.StatusCreated, w.Code)

	var result admission.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "image/jpeg", result.Accepted[0].MimeType)

	w = doRequest(router, "GET", "/api/v1/gallery", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Images []models.UploadItem `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Images, 1)
}

func TestGalleryUploadOverLimit(t *testing.T) {
	router, _, mem := setupAPI(t)
	token := seedAccount(t, mem, "u1", models.UserRoleClient)

	// Cap the gallery at one slot.
	require.NoError(t, mem.Set(context.Background(), store.CollectionSettings,
		store.DocGlobalLimits, models.GlobalLimits{GalleryLimit: 1, DocLimit: 10}, false))

	body, contentType := multipartBody(t, "files",
		map[string][]byte{"a.png": smallPNG(t), "b.png": smallPNG(t)}, "image/png")
	w := doRequest(router, "POST", "/api/v1/gallery", token, body, contentType)
	require.Equal(t, http.StatusConflict, w.Code)

	var result admission.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 2)
	assert.Equal(t, admission.ReasonBatchExceedsLimit, result.Rejected[0].Reason)
}

func TestUploadRequiresAuth(t *testing.T) {
	router, _, _ := setupAPI(t)

	body, contentType := multipartBody(t, "files",
		map[string][]byte{"a.png": []byte("x")}, "image/png")
	w := doRequest(router, "POST", "/api/v1/gallery", "", body, contentType)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLimitsEndpoint(t *testing.T) {
	router, _, mem := setupAPI(t)
	token := seedAccount(t, mem, "u1", models.UserRoleClient)

	w := doRequest(router, "GET", "/api/v1/limits", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]usageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, limits.DefaultGalleryLimit, resp["gallery"].Limit)
	assert.Equal(t, limits.DefaultDocLimit, resp["doc"].Limit)
	assert.Equal(t, 0, resp["gallery"].Count)
}

func TestDeleteGalleryItem(t *testing.T) {
	router, _, mem := setupAPI(t)
	token := seedAccount(t, mem, "u1", models.UserRoleClient)
	ctx := context.Background()

	item := models.UploadItem{ID: "item-1", Name: "a.jpg"}
	require.NoError(t, mem.Append(ctx, store.CollectionGalleries, "u1", "images", item))

	w := doRequest(router, "DELETE", "/api/v1/gallery/item-1", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	count, err := mem.Count(ctx, store.CollectionGalleries, "u1", "images")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestAdminLimitEndpoints(t *testing.T) {
	router, _, mem := setupAPI(t)
	adminToken := seedAccount(t, mem, "a1", models.UserRoleAdmin)
	clientToken := seedAccount(t, mem, "u1", models.UserRoleClient)

	// Clients cannot reach the admin group at all.
	body := bytes.NewBufferString(`{"kind":"gallery","limit":5}`)
	w := doRequest(router, "PUT", "/api/v1/admin/limits/global", clientToken, body, "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)

	body = bytes.NewBufferString(`{"kind":"gallery","limit":5}`)
	w = doRequest(router, "PUT", "/api/v1/admin/limits/global", adminToken, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	// The new global default shows up in the target user's usage.
	w = doRequest(router, "GET", "/api/v1/admin/users/u1/usage", adminToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var usage map[string]usageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, 5, usage["gallery"].Limit)

	// Per-user override beats the global default.
	body = bytes.NewBufferString(`{"kind":"gallery","limit":3}`)
	w = doRequest(router, "PUT", "/api/v1/admin/users/u1/limits", adminToken, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "GET", "/api/v1/admin/users/u1/usage", adminToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, 3, usage["gallery"].Limit)

	// Cascade resets the override.
	body = bytes.NewBufferString(`{"kind":"gallery","limit":8}`)
	w = doRequest(router, "PUT", "/api/v1/admin/limits/cascade", adminToken, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, "GET", "/api/v1/admin/users/u1/usage", adminToken, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, 8, usage["gallery"].Limit)

	// Invalid limit value.
	body = bytes.NewBufferString(`{"kind":"gallery","limit":-2}`)
	w = doRequest(router, "PUT", "/api/v1/admin/limits/global", adminToken, body, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCascadeInvalidatesUserCache(t *testing.T) {
	router, api, mem := setupAPI(t)
	adminToken := seedAccount(t, mem, "a1", models.UserRoleAdmin)
	seedAccount(t, mem, "u1", models.UserRoleClient)
	ctx := context.Background()

	var u models.User
	require.NoError(t, mem.Get(ctx, store.CollectionUsers, "u1", &u))
	require.NoError(t, api.cache.SetUser(ctx, &u, time.Minute))

	body := bytes.NewBufferString(`{"kind":"gallery","limit":8}`)
	w := doRequest(router, "PUT", "/api/v1/admin/limits/cascade", adminToken, body, "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	// The cascade changed u1's stored override, so the cached copy must go.
	cached, err := api.cache.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestAdminCreateUser(t *testing.T) {
	router, _, mem := setupAPI(t)
	adminToken := seedAccount(t, mem, "a1", models.UserRoleAdmin)

	body := bytes.NewBufferString(`{
		"name": "New User",
		"email": "new@example.com",
		"password": "longenough",
		"active": true
	}`)
	w := doRequest(router, "POST", "/api/v1/admin/users", adminToken, body, "application/json")
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.UserRoleClient, created.Role)

	// Duplicate email is refused.
	body = bytes.NewBufferString(`{
		"name": "Other",
		"email": "new@example.com",
		"password": "longenough"
	}`)
	w = doRequest(router, "POST", "/api/v1/admin/users", adminToken, body, "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPublicCard(t *testing.T) {
	router, _, mem := setupAPI(t)
	seedAccount(t, mem, "u1", models.UserRoleClient)
	ctx := context.Background()

	pet := models.Pet{Name: "Neko", Breed: "Calico", Owner: models.PetOwner{Name: "Mia"}}
	require.NoError(t, mem.Set(ctx, store.CollectionPets, "u1", pet, false))

	w := doRequest(router, "GET", "/api/v1/card/u1", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pet    models.Pet       `json:"pet"`
		Config models.AppConfig `json:"config"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Neko", resp.Pet.Name)
	assert.Equal(t, models.DefaultAppName, resp.Config.AppName)

	// Unknown or inactive accounts have no card.
	w = doRequest(router, "GET", "/api/v1/card/nobody", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, mem.Set(ctx, store.CollectionUsers, "u1",
		map[string]interface{}{"active": false}, true))
	w = doRequest(router, "GET", "/api/v1/card/u1", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/amariichi/Image-To-DepthWebViewer/config"
	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/amariichi/Image-To-DepthWebViewer/service"
	"github.com/amariichi/Image-To-DepthWebViewer/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*gin.Engine, *service.RedisService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	// 权重不存在且远端下载被禁用：触发构造即失败
	cfg.Checkpoint.CacheDir = t.TempDir()
	cfg.Checkpoint.Endpoint = ""

	mr := miniredis.RunT(t)
	redisService := service.NewRedisService(&config.RedisConfig{
		Addr: mr.Addr(),
		TTL:  time.Hour,
	})
	t.Cleanup(func() { _ = redisService.Close() })

	depthService := service.NewDepthService(cfg)
	h := NewProcessHandler(cfg, redisService, depthService)

	r := gin.New()
	r.GET("/api/status", h.Status)
	r.POST("/api/process", h.Process)
	return r, redisService
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestProcessMissingFile(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/process", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessEmptyPayload(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "photo.jpg", "image/jpeg", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessRejectsUnsupportedContentType(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "anim.gif", "image/gif", []byte("GIF89a")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessEngineFailureIsOpaque(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "photo.png", "image/png", []byte("fake png bytes")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// 内部细节不回传给调用方
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Error)
	assert.NotContains(t, resp.Message, "dependency")
}

func TestStatusEngineFailure(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestProcessCacheHitHeaders(t *testing.T) {
	r, redisService := newTestRouter(t)

	data := []byte("same upload bytes")
	cached := &model.RGBDEResult{
		MD5:      utils.BytesMD5(data),
		Filename: "previous_RGBDE.png",
		Width:    2,
		Height:   2,
		Device:   "stub",
		PNG:      []byte("png payload"),
	}
	require.NoError(t, redisService.SetRGBDEResult(context.Background(), cached.MD5, cached))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "Café Ω.jpg", "image/jpeg", data))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte("png payload"), w.Body.Bytes())

	// 文件名按本次上传重新推导：ASCII回退 + 百分号编码的UTF-8原名
	assert.Equal(t, "Cafe _RGBDE.png", w.Header().Get("X-RGBDE-Filename"))
	assert.Equal(t, "Caf%C3%A9%20%CE%A9_RGBDE.png", w.Header().Get("X-RGBDE-Filename-Encoded"))

	disposition := w.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, `filename="Cafe _RGBDE.png"`)
	assert.Contains(t, disposition, "filename*=UTF-8''Caf%C3%A9%20%CE%A9_RGBDE.png")
}

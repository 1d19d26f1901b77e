package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/amariichi/Image-To-DepthWebViewer/config"
	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/amariichi/Image-To-DepthWebViewer/service"
	"github.com/amariichi/Image-To-DepthWebViewer/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProcessHandler struct {
	cfg          *config.Config
	redisService *service.RedisService
	depthService *service.DepthService
}

func NewProcessHandler(cfg *config.Config, redis *service.RedisService, depth *service.DepthService) *ProcessHandler {
	return &ProcessHandler{
		cfg:          cfg,
		redisService: redis,
		depthService: depth,
	}
}

// Status 返回服务状态和计算设备，作为副作用触发模型的惰性构造
func (h *ProcessHandler) Status(c *gin.Context) {
	engine, err := h.depthService.Engine()
	if err != nil {
		utils.Logger.Error("engine initialisation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "模型初始化失败",
		})
		return
	}

	c.JSON(http.StatusOK, model.StatusResponse{
		Status: "ok",
		Device: engine.DeviceLabel(),
	})
}

// Process 处理上传图片，返回RGBDE复合图像的PNG字节流
func (h *ProcessHandler) Process(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		utils.Logger.Error("failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取上传文件失败",
		})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		utils.Logger.Error("failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取上传文件失败",
		})
		return
	}

	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "未收到图片数据",
		})
		return
	}

	md5 := utils.BytesMD5(data)
	ctx := context.Background()

	// 检查缓存：相同内容直接复用生成结果，文件名按本次上传重新推导
	cached, err := h.redisService.GetRGBDEResult(ctx, md5)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("md5", md5))
		cached.Filename = service.OutputFilename(file.Filename)
		h.writeResult(c, cached)
		return
	}

	result, err := h.depthService.GenerateRGBDE(ctx, data, file.Filename)
	if err != nil {
		if errors.Is(err, model.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Success: false,
				Message: "仅支持 JPG 和 PNG 输入",
			})
			return
		}
		// 内部细节只记录日志，不回传调用方
		utils.Logger.Error("depth generation failed",
			zap.String("filename", file.Filename),
			zap.String("md5", md5),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "深度图生成失败",
		})
		return
	}

	if err := h.redisService.SetRGBDEResult(ctx, md5, result); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	h.writeResult(c, result)
}

// writeResult 输出PNG字节流。Content-Disposition 同时携带ASCII回退名
// 和百分号编码的UTF-8原名；X-RGBDE-Filename 供无法解析
// Content-Disposition 的客户端使用。
func (h *ProcessHandler) writeResult(c *gin.Context, result *model.RGBDEResult) {
	fallback := utils.ASCIISafeFilename(result.Filename)
	encoded := utils.PercentEncode(result.Filename)

	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, encoded))
	c.Header("X-RGBDE-Filename", fallback)
	if fallback != result.Filename {
		c.Header("X-RGBDE-Filename-Encoded", encoded)
	}

	c.Data(http.StatusOK, "image/png", result.PNG)
}

func (h *ProcessHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

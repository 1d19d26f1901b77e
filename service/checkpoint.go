package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/amariichi/Image-To-DepthWebViewer/config"
	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/amariichi/Image-To-DepthWebViewer/utils"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const downloadTimeout = 30 * time.Minute

// CheckpointResolver 负责定位或下载模型权重文件
type CheckpointResolver struct {
	cfg    *config.CheckpointConfig
	client *resty.Client // nil 表示远端下载能力不可用
}

func NewCheckpointResolver(cfg *config.CheckpointConfig) *CheckpointResolver {
	var client *resty.Client
	if cfg.Endpoint != "" {
		client = resty.New().
			SetBaseURL(cfg.Endpoint).
			SetTimeout(downloadTimeout)
	}

	return &CheckpointResolver{
		cfg:    cfg,
		client: client,
	}
}

// Resolve 返回权重文件的本地路径。本地缓存命中时直接返回（无网络访问），
// 否则从远端仓库下载到缓存目录。下载失败不自动重试。
func (r *CheckpointResolver) Resolve(ctx context.Context) (string, error) {
	target := filepath.Join(r.cfg.CacheDir, r.cfg.Filename)
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}

	if err := os.MkdirAll(r.cfg.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	if r.client == nil {
		return "", fmt.Errorf("%w: remote download is disabled and no local checkpoint exists at %s",
			model.ErrDependencyMissing, target)
	}

	utils.Logger.Info("downloading checkpoint",
		zap.String("repo_id", r.cfg.RepoID),
		zap.String("filename", r.cfg.Filename))

	// 先写入临时文件，成功后再移动到规范路径
	partial := target + ".download"
	resp, err := r.client.R().
		SetContext(ctx).
		SetOutput(partial).
		Get(fmt.Sprintf("/%s/resolve/main/%s", r.cfg.RepoID, r.cfg.Filename))
	if err != nil {
		_ = os.Remove(partial)
		return "", fmt.Errorf("%w: %v", model.ErrDownloadFailed, err)
	}
	if resp.IsError() {
		_ = os.Remove(partial)
		return "", fmt.Errorf("%w: unexpected status %s", model.ErrDownloadFailed, resp.Status())
	}

	if err := os.Rename(partial, target); err != nil {
		return "", fmt.Errorf("failed to move checkpoint into place: %w", err)
	}

	utils.Logger.Info("checkpoint downloaded", zap.String("path", target))
	return target, nil
}

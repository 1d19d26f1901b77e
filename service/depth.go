package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amariichi/Image-To-DepthWebViewer/config"
	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/amariichi/Image-To-DepthWebViewer/utils"
	"go.uber.org/zap"
)

// DepthService RGBDE生成的门面：惰性构造一次推理引擎，
// 用信号量限制并发的重计算部分
type DepthService struct {
	semaphore    chan struct{}
	queueTimeout time.Duration

	mu          sync.Mutex
	engine      *InferenceEngine
	buildEngine func() (*InferenceEngine, error)
}

func NewDepthService(cfg *config.Config) *DepthService {
	resolver := NewCheckpointResolver(&cfg.Checkpoint)
	inferenceCfg := cfg.Inference

	maxConcurrent := inferenceCfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &DepthService{
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: time.Duration(inferenceCfg.QueueTimeout) * time.Second,
		buildEngine: func() (*InferenceEngine, error) {
			checkpointPath, err := resolver.Resolve(context.Background())
			if err != nil {
				return nil, err
			}
			return NewInferenceEngine(&inferenceCfg, checkpointPath)
		},
	}
}

// Engine 惰性构造推理引擎：首个调用者负责构造，并发调用者等待同一结果。
// 构造失败只返回给触发者，不会被缓存为成功，后续调用可以重试。
func (s *DepthService) Engine() (*InferenceEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		return s.engine, nil
	}

	start := time.Now()
	engine, err := s.buildEngine()
	if err != nil {
		return nil, err
	}
	s.engine = engine

	utils.Logger.Info("inference engine initialised",
		zap.String("device", engine.DeviceLabel()),
		zap.Duration("cost", time.Since(start)))

	return engine, nil
}

// GenerateRGBDE 从图片字节生成RGBDE复合图像。重计算部分（解码、推理、
// 编码）受信号量约束，推理开始后不支持取消，请求要么完成要么整体失败。
func (s *DepthService) GenerateRGBDE(ctx context.Context, data []byte, originalName string) (*model.RGBDEResult, error) {
	// 并发控制
	admission := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		admission, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	case <-admission.Done():
		return nil, fmt.Errorf("处理队列已满，请稍后重试")
	}

	engine, err := s.Engine()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	colorImg, depthMap, err := engine.Infer(data, originalName)
	if err != nil {
		return nil, err
	}

	combined, err := EncodeRGBDE(colorImg, depthMap)
	if err != nil {
		return nil, err
	}

	pngBytes, err := EncodePNG(combined)
	if err != nil {
		return nil, err
	}

	result := &model.RGBDEResult{
		MD5:       utils.BytesMD5(data),
		Filename:  OutputFilename(originalName),
		Width:     depthMap.Width,
		Height:    depthMap.Height,
		Device:    engine.DeviceLabel(),
		Timestamp: time.Now().Unix(),
		PNG:       pngBytes,
	}

	utils.Logger.Info("rgbde generated",
		zap.String("filename", result.Filename),
		zap.Int("width", result.Width),
		zap.Int("height", result.Height),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

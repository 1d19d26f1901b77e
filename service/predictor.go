package service

import (
	"fmt"
	"sync"

	"github.com/amariichi/Image-To-DepthWebViewer/config"
	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/amariichi/Image-To-DepthWebViewer/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// DepthPredictor 深度估计模型的窄接口。tensor 为 1x3xNxN 的 CHW 浮点张量，
// focalPx 为焦距提示（像素，0 表示未知）。实现必须在构造后只读，可并发调用。
type DepthPredictor interface {
	Predict(tensor []float32, size int, focalPx float64) (*model.DepthMap, error)
	Close() error
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// ONNX Runtime 环境进程内只初始化一次
func initONNXRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("%w: onnxruntime is unavailable: %v",
				model.ErrDependencyMissing, err)
		}
	})
	return ortInitErr
}

type onnxPredictor struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	device     string
}

// newONNXPredictor 加载权重并创建推理会话。优先尝试带 SessionOptions 的
// 构造路径（执行后端等配置），不兼容时退回无配置构造，行为保持一致。
func newONNXPredictor(cfg *config.InferenceConfig, checkpointPath string) (*onnxPredictor, error) {
	if err := initONNXRuntime(cfg.OnnxLibPath); err != nil {
		return nil, err
	}

	opts, device, err := buildSessionOptions(cfg.Device)
	if err != nil {
		return nil, err
	}

	inputNames := []string{cfg.InputName}
	outputNames := []string{cfg.OutputName}

	var session *ort.DynamicAdvancedSession
	if opts != nil {
		defer opts.Destroy()
		session, err = ort.NewDynamicAdvancedSession(checkpointPath, inputNames, outputNames, opts)
		if err != nil && cfg.Device == "" {
			// 带配置的构造路径不兼容时退回无配置构造
			utils.Logger.Warn("session options rejected, falling back to plain session",
				zap.Error(err))
			device = "cpu"
			session = nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to create inference session: %w", err)
		}
	}
	if session == nil {
		session, err = ort.NewDynamicAdvancedSession(checkpointPath, inputNames, outputNames, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create inference session: %w", err)
		}
	}

	return &onnxPredictor{
		session:    session,
		inputName:  cfg.InputName,
		outputName: cfg.OutputName,
		device:     device,
	}, nil
}

// buildSessionOptions 选择计算设备。显式指定的设备不可用时报错；
// 未指定时优先尝试 CUDA，失败则退回 CPU。
func buildSessionOptions(device string) (*ort.SessionOptions, string, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session options: %w", err)
	}

	switch device {
	case "cuda":
		if err := appendCUDA(opts); err != nil {
			opts.Destroy()
			return nil, "", fmt.Errorf("cuda device requested but unavailable: %w", err)
		}
		return opts, "cuda", nil
	case "coreml":
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			opts.Destroy()
			return nil, "", fmt.Errorf("coreml device requested but unavailable: %w", err)
		}
		return opts, "coreml", nil
	case "cpu":
		return opts, "cpu", nil
	case "":
		if err := appendCUDA(opts); err == nil {
			return opts, "cuda", nil
		}
		return opts, "cpu", nil
	default:
		opts.Destroy()
		return nil, "", fmt.Errorf("unknown device %q", device)
	}
}

func appendCUDA(opts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()
	return opts.AppendExecutionProviderCUDA(cudaOpts)
}

// Predict 运行一次推理。会话在构造后只读，ONNX Runtime 的 Run 本身
// 是线程安全的，因此无需加锁。导出的模型自行估计视场角，focalPx 不参与计算。
func (p *onnxPredictor) Predict(tensor []float32, size int, focalPx float64) (*model.DepthMap, error) {
	_ = focalPx

	shape := ort.NewShape(1, 3, int64(size), int64(size))
	input, err := ort.NewTensor(shape, tensor)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %v", model.ErrInferenceFailed, err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInferenceFailed, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output tensor type", model.ErrInferenceFailed)
	}

	// 输出接受 [1,1,N,N]、[1,N,N] 或 [N,N]
	dims := out.GetShape()
	if len(dims) < 2 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", model.ErrInferenceFailed, dims)
	}
	height := int(dims[len(dims)-2])
	width := int(dims[len(dims)-1])
	data := out.GetData()
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: unexpected output shape %v", model.ErrInferenceFailed, dims)
	}

	depth := model.NewDepthMap(width, height)
	copy(depth.Values, data)
	return depth, nil
}

func (p *onnxPredictor) Close() error {
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	return nil
}

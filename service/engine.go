package service

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/amariichi/Image-To-DepthWebViewer/config"
	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/amariichi/Image-To-DepthWebViewer/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// InferenceEngine 持有加载好的深度模型和预处理参数。
// 构造开销大（秒级），每进程最多一次；构造完成后只读，可并发调用。
type InferenceEngine struct {
	predictor DepthPredictor
	device    string
	inputSize int
}

func NewInferenceEngine(cfg *config.InferenceConfig, checkpointPath string) (*InferenceEngine, error) {
	predictor, err := newONNXPredictor(cfg, checkpointPath)
	if err != nil {
		return nil, err
	}

	return &InferenceEngine{
		predictor: predictor,
		device:    predictor.device,
		inputSize: cfg.InputSize,
	}, nil
}

func (e *InferenceEngine) DeviceLabel() string {
	return e.device
}

func (e *InferenceEngine) Close() error {
	return e.predictor.Close()
}

// Infer 对一张图片做深度推理，返回解码后的彩色图像和同尺寸的深度图。
// 深度值经过清洗：NaN/±Inf 置零，负值截断为零。
func (e *InferenceEngine) Infer(data []byte, originalName string) (image.Image, *model.DepthMap, error) {
	// 重计算之前先做扩展名检查
	ext := strings.ToLower(filepath.Ext(originalName))
	if !allowedExtensions[ext] {
		return nil, nil, fmt.Errorf("%w: got %q", model.ErrUnsupportedFormat, ext)
	}

	// 经由临时文件解码，任何退出路径都会清理
	tempDir, err := os.MkdirTemp("", "rgbde_")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "source"+ext)
	if err := os.WriteFile(inputPath, data, 0644); err != nil {
		return nil, nil, fmt.Errorf("failed to write temp file: %w", err)
	}

	img := gocv.IMRead(inputPath, gocv.IMReadColor)
	if img.Empty() {
		return nil, nil, fmt.Errorf("%w: failed to decode image", model.ErrShapeMismatch)
	}
	defer img.Close()

	width := img.Cols()
	height := img.Rows()

	colorImg, err := img.ToImage()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", model.ErrShapeMismatch, err)
	}

	tensor, err := e.buildTensor(&img)
	if err != nil {
		return nil, nil, err
	}

	// 焦距提示：无EXIF来源时传0，模型自行估计
	raw, err := e.predictor.Predict(tensor, e.inputSize, 0)
	if err != nil {
		return nil, nil, err
	}

	sanitizeDepth(raw)
	depth := resampleDepth(raw, width, height)

	utils.Logger.Debug("depth inferred",
		zap.String("name", originalName),
		zap.Int("width", width),
		zap.Int("height", height))

	return colorImg, depth, nil
}

// buildTensor 将BGR Mat缩放到模型输入边长，转RGB并归一化为CHW张量
func (e *InferenceEngine) buildTensor(img *gocv.Mat) ([]float32, error) {
	n := e.inputSize

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*img, &resized, image.Point{X: n, Y: n}, 0, 0, gocv.InterpolationArea)

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(resized, &rgb, gocv.ColorBGRToRGB)

	raw := rgb.ToBytes()
	if len(raw) != 3*n*n {
		return nil, fmt.Errorf("%w: unexpected pixel buffer size %d", model.ErrShapeMismatch, len(raw))
	}

	tensor := make([]float32, 3*n*n)
	plane := n * n
	for i := 0; i < plane; i++ {
		for ch := 0; ch < 3; ch++ {
			tensor[ch*plane+i] = float32(raw[i*3+ch])/127.5 - 1.0
		}
	}
	return tensor, nil
}

// sanitizeDepth 将NaN和±Inf置零，负深度截断为零
func sanitizeDepth(d *model.DepthMap) {
	for i, v := range d.Values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			d.Values[i] = 0
		}
	}
}

// resampleDepth 将模型网格上的深度图双线性重采样到原图尺寸
func resampleDepth(src *model.DepthMap, width, height int) *model.DepthMap {
	if src.Width == width && src.Height == height {
		return src
	}

	dst := model.NewDepthMap(width, height)
	sx := float64(src.Width) / float64(width)
	sy := float64(src.Height) / float64(height)

	for y := 0; y < height; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(math.Floor(fy))
		ty := fy - float64(y0)
		y1 := y0 + 1
		y0 = clampIndex(y0, src.Height)
		y1 = clampIndex(y1, src.Height)

		for x := 0; x < width; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(math.Floor(fx))
			tx := fx - float64(x0)
			x1 := x0 + 1
			x0 = clampIndex(x0, src.Width)
			x1 = clampIndex(x1, src.Width)

			top := float64(src.At(x0, y0))*(1-tx) + float64(src.At(x1, y0))*tx
			bottom := float64(src.At(x0, y1))*(1-tx) + float64(src.At(x1, y1))*tx
			dst.Set(x, y, float32(top*(1-ty)+bottom*ty))
		}
	}
	return dst
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

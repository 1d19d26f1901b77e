package service

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"
	"strings"

	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/disintegration/imaging"
)

// DepthScale 深度定点量化系数：深度×10000 四舍五入为无符号32位整数，
// 量化步长 0.0001。整数的4个小端字节即为深度半区像素的 R,G,B,A。
const DepthScale = 10000.0

// EncodeRGBDE 将彩色图和深度图合成为一张 H×2W 的RGBDE图像：
// 左半为原彩色图（alpha 强制 255），右半为深度的逐位定点编码。
// 纯函数，无 I/O。右半不是可视化渐变，直接查看是噪声。
func EncodeRGBDE(colorImg image.Image, depth *model.DepthMap) (*image.NRGBA, error) {
	bounds := colorImg.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: empty color image", model.ErrShapeMismatch)
	}
	if depth == nil || depth.Width != w || depth.Height != h || len(depth.Values) != w*h {
		return nil, fmt.Errorf("%w: color %dx%d does not match depth map", model.ErrShapeMismatch, w, h)
	}

	// NRGBA（非预乘）保证右半的原始字节经PNG序列化后逐位不变
	out := image.NewNRGBA(image.Rect(0, 0, 2*w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(colorImg.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := out.PixOffset(x, y)
			out.Pix[i+0] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 255

			j := out.PixOffset(w+x, y)
			binary.LittleEndian.PutUint32(out.Pix[j:j+4], quantizeDepth(depth.At(x, y)))
		}
	}
	return out, nil
}

// quantizeDepth 非负浮点深度到u4的逐位双射。NaN/±Inf/负值编码为0，
// 超出u4范围的深度截断到最大值（回绕会把远端深度混叠为近端）。
func quantizeDepth(v float32) uint32 {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	scaled := math.Round(f * DepthScale)
	if scaled > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(scaled)
}

// DecodeDepth 从RGBDE图像的右半还原深度图，是编码的逆运算。
// 消费方参考实现，测试用它验证编码可逆。
func DecodeDepth(img image.Image) (*model.DepthMap, error) {
	bounds := img.Bounds()
	if bounds.Dx()%2 != 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("%w: RGBDE image width must be even", model.ErrShapeMismatch)
	}
	w := bounds.Dx() / 2
	h := bounds.Dy()

	depth := model.NewDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+w+x, bounds.Min.Y+y)).(color.NRGBA)
			u := binary.LittleEndian.Uint32([]byte{c.R, c.G, c.B, c.A})
			depth.Set(x, y, float32(float64(u)/DepthScale))
		}
	}
	return depth, nil
}

// EncodePNG 无损序列化，最高压缩级别。禁止有损格式：会破坏深度字节。
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := imaging.Encode(&buf, img, imaging.PNG,
		imaging.PNGCompressionLevel(png.BestCompression))
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// OutputFilename 输出命名约定：输入文件名的主干 + "_RGBDE.png"
func OutputFilename(originalName string) string {
	base := filepath.Base(originalName)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = "source"
	}
	return stem + "_RGBDE.png"
}

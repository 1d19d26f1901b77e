package service

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/amariichi/Image-To-DepthWebViewer/model"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWhiteImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	depth := model.NewDepthMap(4, 3)
	values := []float32{
		0, 0.0001, 0.5, 1.0,
		2.7182, 3.1415, 42.0, 123.4567,
		1000.0, 65535.9999, 429496.7295, 0.0002,
	}
	copy(depth.Values, values)

	combined, err := EncodeRGBDE(newWhiteImage(4, 3), depth)
	require.NoError(t, err)

	decoded, err := DecodeDepth(combined)
	require.NoError(t, err)
	require.Equal(t, depth.Width, decoded.Width)
	require.Equal(t, depth.Height, decoded.Height)

	for i, want := range depth.Values {
		// 量化步长 0.0001，往返误差不超过半个步长
		assert.InDelta(t, float64(want), float64(decoded.Values[i]), 0.0001, "index %d", i)
	}
}

func TestEncodeSanitizesInvalidValues(t *testing.T) {
	depth := model.NewDepthMap(2, 2)
	depth.Values[0] = float32(math.NaN())
	depth.Values[1] = float32(math.Inf(1))
	depth.Values[2] = float32(math.Inf(-1))
	depth.Values[3] = -5.0

	combined, err := EncodeRGBDE(newWhiteImage(2, 2), depth)
	require.NoError(t, err)

	decoded, err := DecodeDepth(combined)
	require.NoError(t, err)
	for i, v := range decoded.Values {
		assert.Equal(t, float32(0), v, "index %d", i)
		assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "index %d", i)
	}
}

func TestEncodeOutputShape(t *testing.T) {
	depth := model.NewDepthMap(5, 3)
	combined, err := EncodeRGBDE(newWhiteImage(5, 3), depth)
	require.NoError(t, err)

	assert.Equal(t, 10, combined.Bounds().Dx())
	assert.Equal(t, 3, combined.Bounds().Dy())
}

func TestEncodeShapeMismatch(t *testing.T) {
	depth := model.NewDepthMap(3, 3)
	_, err := EncodeRGBDE(newWhiteImage(2, 2), depth)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestEncodeGrayscaleInput(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range gray.Pix {
		gray.Pix[i] = 128
	}

	combined, err := EncodeRGBDE(gray, model.NewDepthMap(2, 2))
	require.NoError(t, err)

	// 灰度复制到三个通道，alpha 为 255
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			c := combined.NRGBAAt(x, y)
			assert.Equal(t, color.NRGBA{R: 128, G: 128, B: 128, A: 255}, c)
		}
	}
}

func TestEncodeForcesOpaqueAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 40})
	img.SetNRGBA(1, 0, color.NRGBA{R: 50, G: 60, B: 70, A: 0})

	combined, err := EncodeRGBDE(img, model.NewDepthMap(2, 1))
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, combined.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 50, G: 60, B: 70, A: 255}, combined.NRGBAAt(1, 0))
}

func TestQuantizeDepth(t *testing.T) {
	assert.Equal(t, uint32(0), quantizeDepth(0))
	assert.Equal(t, uint32(1), quantizeDepth(0.0001))
	assert.Equal(t, uint32(10000), quantizeDepth(1.0))
	assert.Equal(t, uint32(0), quantizeDepth(-1.0))
	assert.Equal(t, uint32(0), quantizeDepth(float32(math.NaN())))
	assert.Equal(t, uint32(0), quantizeDepth(float32(math.Inf(1))))
	// 超出u4范围截断而不是回绕
	assert.Equal(t, uint32(math.MaxUint32), quantizeDepth(500000.0))
}

func TestEndToEndTwoByTwo(t *testing.T) {
	depth := model.NewDepthMap(2, 2)
	depth.Values[0] = 1.0
	depth.Values[1] = 2.0
	depth.Values[2] = 0.0
	depth.Values[3] = 429496.7295

	combined, err := EncodeRGBDE(newWhiteImage(2, 2), depth)
	require.NoError(t, err)

	pngBytes, err := EncodePNG(combined)
	require.NoError(t, err)

	roundTripped, err := imaging.Decode(bytes.NewReader(pngBytes))
	require.NoError(t, err)

	// 输出为 2x4，左半为不透明白色
	require.Equal(t, 4, roundTripped.Bounds().Dx())
	require.Equal(t, 2, roundTripped.Bounds().Dy())
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			c := color.NRGBAModel.Convert(roundTripped.At(x, y)).(color.NRGBA)
			assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, c)
		}
	}

	// 右半解码并除以量化系数后还原输入深度
	decoded, err := DecodeDepth(roundTripped)
	require.NoError(t, err)
	for i := range depth.Values {
		assert.InDelta(t, float64(depth.Values[i]), float64(decoded.Values[i]), 0.0001, "index %d", i)
	}
}

func TestDecodeDepthOddWidth(t *testing.T) {
	_, err := DecodeDepth(image.NewNRGBA(image.Rect(0, 0, 3, 2)))
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "photo_RGBDE.png", OutputFilename("photo.jpg"))
	assert.Equal(t, "Café Ω_RGBDE.png", OutputFilename("Café Ω.jpg"))
	assert.Equal(t, "photo_RGBDE.png", OutputFilename("/tmp/dir/photo.png"))
	assert.Equal(t, "source_RGBDE.png", OutputFilename(""))
}

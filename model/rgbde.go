package model

// DepthMap H×W 的 32 位浮点深度图，按行优先存储
type DepthMap struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float32 `json:"-"`
}

// NewDepthMap 创建全零深度图
func NewDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

func (d *DepthMap) At(x, y int) float32 {
	return d.Values[y*d.Width+x]
}

func (d *DepthMap) Set(x, y int, v float32) {
	d.Values[y*d.Width+x] = v
}

// RGBDEResult 生成的RGBDE图像及其元信息
type RGBDEResult struct {
	MD5       string `json:"md5"`
	Filename  string `json:"filename"`
	Width     int    `json:"width"`  // 原图宽度，输出图宽度为 2*Width
	Height    int    `json:"height"`
	Device    string `json:"device"`
	Timestamp int64  `json:"timestamp"`
	PNG       []byte `json:"png"` // JSON序列化时为base64
}

// StatusResponse /api/status 响应
type StatusResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

package model

import "errors"

// 错误分类：服务边界按 errors.Is 匹配这些哨兵，
// 决定返回客户端错误还是不透明的服务端错误。
var (
	// ErrDependencyMissing 必需的外部能力缺失（构造期致命，不重试）
	ErrDependencyMissing = errors.New("required dependency is missing")

	// ErrDownloadFailed 远端获取权重失败（向上抛出，不自动重试）
	ErrDownloadFailed = errors.New("checkpoint download failed")

	// ErrUnsupportedFormat 输入扩展名不在白名单内（客户端可纠正）
	ErrUnsupportedFormat = errors.New("only JPG and PNG inputs are supported")

	// ErrShapeMismatch 解码出的图像形状非法
	ErrShapeMismatch = errors.New("image shape mismatch")

	// ErrInferenceFailed 模型内部的意外失败（只在服务端记录细节）
	ErrInferenceFailed = errors.New("depth inference failed")
)

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Inference  InferenceConfig  `mapstructure:"inference"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// CheckpointConfig 模型权重文件的获取配置
type CheckpointConfig struct {
	RepoID   string `mapstructure:"repo_id"`
	Filename string `mapstructure:"filename"`
	CacheDir string `mapstructure:"cache_dir"`
	Endpoint string `mapstructure:"endpoint"` // 为空时禁用远端下载
}

// InferenceConfig 深度推理配置
type InferenceConfig struct {
	Device        string `mapstructure:"device"` // cuda / coreml / cpu，为空时自动选择
	InputSize     int    `mapstructure:"input_size"`
	InputName     string `mapstructure:"input_name"`
	OutputName    string `mapstructure:"output_name"`
	OnnxLibPath   string `mapstructure:"onnx_lib_path"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	QueueTimeout  int    `mapstructure:"queue_timeout"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 环境变量覆盖（如 DEPTHKIT_INFERENCE_DEVICE）
	v.SetEnvPrefix("depthkit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg"})

	v.SetDefault("checkpoint.repo_id", "apple/DepthPro")
	v.SetDefault("checkpoint.filename", "depth_pro.onnx")
	v.SetDefault("checkpoint.cache_dir", "./checkpoints")
	v.SetDefault("checkpoint.endpoint", "https://huggingface.co")

	v.SetDefault("inference.device", "")
	v.SetDefault("inference.input_size", 1536)
	v.SetDefault("inference.input_name", "image")
	v.SetDefault("inference.output_name", "depth")
	v.SetDefault("inference.onnx_lib_path", "")
	v.SetDefault("inference.max_concurrent", 2)
	v.SetDefault("inference.queue_timeout", 120)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      20 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Checkpoint: CheckpointConfig{
			RepoID:   "apple/DepthPro",
			Filename: "depth_pro.onnx",
			CacheDir: "./checkpoints",
			Endpoint: "https://huggingface.co",
		},
		Inference: InferenceConfig{
			Device:        "",
			InputSize:     1536,
			InputName:     "image",
			OutputName:    "depth",
			OnnxLibPath:   "",
			MaxConcurrent: 2,
			QueueTimeout:  120,
		},
	}
}

// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultClovaHost   = "https://clovastudio.apigw.ntruss.com"
	DefaultClovaModel  = "HCX-DASH-001"
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultAugmentLLM  = "gpt-4"
	DefaultEvalLLM     = "gpt-3.5-turbo"
	DefaultConcurrency = 1
)

// Config 存储应用配置
type Config struct {
	// 基础配置
	Port      string
	LogDir    string
	LogLevel  string
	DebugMode bool

	// 外部模型服务
	ClovaHost        string
	ClovaModel       string
	OpenAIBaseURL    string
	AugmentModel     string
	EvalDefaultModel string

	// 批处理。DispatchTimeout 是远程分发单次请求的上限，BatchTimeout 为0表示不限制
	BatchConcurrency int
	HTTPTimeout      time.Duration
	DispatchTimeout  time.Duration
	BatchTimeout     time.Duration
	MaxUploadBytes   int64

	// 每个客户端每分钟允许的 /api/llm 与 /api/batch 请求数，0 表示不限制
	DispatchRateLimit int
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		LogDir:           getEnv("LOG_DIR", "logs"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		DebugMode:        getEnvBool("DEBUG_MODE", false),
		ClovaHost:        getEnv("CLOVA_HOST", DefaultClovaHost),
		ClovaModel:       getEnv("CLOVA_MODEL", DefaultClovaModel),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", DefaultOpenAIURL),
		AugmentModel:     getEnv("AUGMENT_MODEL", DefaultAugmentLLM),
		EvalDefaultModel: getEnv("EVAL_DEFAULT_MODEL", DefaultEvalLLM),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", DefaultConcurrency),
		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 60)) * time.Second,
		DispatchTimeout:  time.Duration(getEnvInt("DISPATCH_TIMEOUT_SECONDS", 180)) * time.Second,
		BatchTimeout:     time.Duration(getEnvInt("BATCH_TIMEOUT_SECONDS", 0)) * time.Second,
		MaxUploadBytes:   int64(getEnvInt("MAX_UPLOAD_MB", 32)) << 20,

		DispatchRateLimit: getEnvInt("DISPATCH_RATE_LIMIT", 0),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT 不能为空")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY 必须 >= 1，当前: %d", c.BatchConcurrency)
	}
	if c.HTTPTimeout <= 0 || c.DispatchTimeout <= 0 {
		return fmt.Errorf("超时时间必须为正数")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB 必须为正数")
	}
	if c.BatchTimeout < 0 {
		return fmt.Errorf("BATCH_TIMEOUT_SECONDS 不能为负数")
	}
	if c.DispatchRateLimit < 0 {
		return fmt.Errorf("DISPATCH_RATE_LIMIT 不能为负数")
	}
	return nil
}

// ProviderConfig 返回某个提供者的初始化参数
func (c *Config) ProviderConfig(name string) map[string]string {
	timeout := strconv.Itoa(int(c.HTTPTimeout.Seconds()))
	switch name {
	case "clova":
		return map[string]string{
			"host":            c.ClovaHost,
			"default_model":   c.ClovaModel,
			"timeout_seconds": timeout,
		}
	case "openai":
		return map[string]string{
			"base_url":        c.OpenAIBaseURL,
			"default_model":   c.AugmentModel,
			"timeout_seconds": timeout,
		}
	default:
		return map[string]string{}
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量，解析失败时使用默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Printf("警告: 环境变量 %s 不是整数: %q，使用默认值 %d\n", key, value, defaultValue)
		return defaultValue
	}
	return n
}

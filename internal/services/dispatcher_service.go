// internal/services/dispatcher_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/Corphon/EvalSheet/internal/config"
	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// 分发边界的错误消息
const (
	MsgInvalidRequestData      = "Invalid request data"
	MsgInvalidAction           = "Invalid action"
	MsgMissingAugmentParams    = "Missing augmentation parameters"
	MsgMissingOpenAIKey        = "OpenAI API key is not provided"
	MsgMissingClovaCredentials = "Client ID and secret are not provided"
	MsgMissingEvalSettings     = "Missing evaluation settings"
)

// Dispatcher 处理单行动作请求，返回结果行
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.ActionRequest) ([]models.Row, error)
}

// ProviderFactory 按名称和配置创建提供者
type ProviderFactory func(name string, config map[string]string) (llm.Provider, error)

// DispatcherService 进程内分发器：校验请求并路由到推理、评估或增强
type DispatcherService struct {
	cfg          *config.Config
	newProvider  ProviderFactory
	inference    *InferenceService
	evaluation   *EvaluationService
	augmentation *AugmentationService
	metrics      *utils.MetricsCollector
	logger       *utils.Logger

	// 按凭据缓存提供者实例，复用 Clova 访问令牌
	providers map[string]llm.Provider
	mu        sync.Mutex
}

// NewDispatcherService 创建分发器，factory 为 nil 时使用 llm.GetProvider
func NewDispatcherService(cfg *config.Config, factory ProviderFactory, logger *utils.Logger) *DispatcherService {
	if factory == nil {
		factory = llm.GetProvider
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &DispatcherService{
		cfg:          cfg,
		newProvider:  factory,
		inference:    NewInferenceService(logger),
		evaluation:   NewEvaluationService(cfg.EvalDefaultModel, logger),
		augmentation: NewAugmentationService(cfg.AugmentModel, logger),
		logger:       logger,
		providers:    make(map[string]llm.Provider),
	}
}

// SetMetrics 设置指标收集器，为 nil 时不记录
func (d *DispatcherService) SetMetrics(metrics *utils.MetricsCollector) {
	d.metrics = metrics
}

// Dispatch 实现 Dispatcher
func (d *DispatcherService) Dispatch(ctx context.Context, req *models.ActionRequest) ([]models.Row, error) {
	start := time.Now()
	rows, err := d.dispatch(ctx, req)
	if d.metrics != nil {
		action := "unknown"
		if req != nil && req.Action != "" {
			action = string(req.Action)
		}
		d.metrics.RecordDispatch(action, errorTypeOf(err), time.Since(start))
	}
	return rows, err
}

func (d *DispatcherService) dispatch(ctx context.Context, req *models.ActionRequest) ([]models.Row, error) {
	if req == nil || req.Action == "" || len(req.Data) != 1 || req.Data[0] == nil {
		return nil, apperrors.NewValidationError(MsgInvalidRequestData, nil)
	}
	row := req.Data[0]
	creds := req.CredentialSet()

	switch req.Action {
	case models.ActionInference:
		if creds.ClientID == "" || creds.ClientSecret == "" {
			return nil, apperrors.NewValidationError(MsgMissingClovaCredentials, nil)
		}
		provider, err := d.provider("clova", map[string]string{
			"client_id":     creds.ClientID,
			"client_secret": creds.ClientSecret,
		})
		if err != nil {
			return nil, err
		}
		out, err := d.inference.Infer(ctx, provider, row, req.SystemPrompt, req.UserInput)
		if err != nil {
			return nil, err
		}
		return []models.Row{out}, nil

	case models.ActionEvaluate:
		if req.EvaluationSettings == nil {
			return nil, apperrors.NewValidationError(MsgMissingEvalSettings, nil)
		}
		provider, err := d.openAI(creds)
		if err != nil {
			return nil, err
		}
		out, err := d.evaluation.Evaluate(ctx, provider, row, req.EvaluationSettings)
		if err != nil {
			return nil, err
		}
		return []models.Row{out}, nil

	case models.ActionAugment:
		if req.AugmentationFactor < 1 || req.AugmentationPrompt == "" || req.SelectedColumn == "" {
			return nil, apperrors.NewValidationError(MsgMissingAugmentParams, nil)
		}
		provider, err := d.openAI(creds)
		if err != nil {
			return nil, err
		}
		return d.augmentation.Augment(ctx, provider, row, req.AugmentationFactor, req.AugmentationPrompt, req.SelectedColumn)

	default:
		return nil, apperrors.NewValidationError(MsgInvalidAction, nil)
	}
}

func (d *DispatcherService) openAI(creds models.CredentialSet) (llm.Provider, error) {
	if creds.OpenAIAPIKey == "" {
		return nil, apperrors.NewValidationError(MsgMissingOpenAIKey, nil)
	}
	return d.provider("openai", map[string]string{"api_key": creds.OpenAIAPIKey})
}

// provider 返回缓存的实例，不存在时用基础配置加凭据创建
func (d *DispatcherService) provider(name string, secrets map[string]string) (llm.Provider, error) {
	key := cacheKey(name, secrets)

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.providers[key]; ok {
		return p, nil
	}

	cfg := d.cfg.ProviderConfig(name)
	for k, v := range secrets {
		cfg[k] = v
	}
	p, err := d.newProvider(name, cfg)
	if err != nil {
		return nil, apperrors.WrapError(err, "初始化提供者失败", apperrors.ErrorTypeError)
	}

	d.providers[key] = p
	d.logger.Info("创建提供者实例", map[string]interface{}{"provider": p.GetName()})
	return p, nil
}

func cacheKey(name string, secrets map[string]string) string {
	h := sha256.New()
	h.Write([]byte(name))
	for _, k := range []string{"api_key", "client_id", "client_secret"} {
		h.Write([]byte{0})
		h.Write([]byte(secrets[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func errorTypeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Type)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "internal"
}

// internal/services/inference_service.go
package services

import (
	"context"
	"fmt"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// InferenceService 用 token 认证的补全提供者为单行生成 assistant 列
type InferenceService struct {
	logger *utils.Logger
}

// NewInferenceService 创建推理服务
func NewInferenceService(logger *utils.Logger) *InferenceService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &InferenceService{logger: logger}
}

// Infer systemColumn / userColumn 是列名，其值作为 system / user 消息（缺失为空）。
// 普通失败写入行内错误标记；认证失败和取消向上返回。
func (s *InferenceService) Infer(ctx context.Context, provider llm.Provider, row models.Row, systemColumn, userColumn string) (models.Row, error) {
	system := ""
	if systemColumn != "" {
		system = row.Get(systemColumn)
	}
	text := ""
	if userColumn != "" {
		text = row.Get(userColumn)
	}

	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Prompt:       text,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if apperrors.IsUnauthorizedError(err) {
			return nil, err
		}
		s.logger.Warn("推理失败，写入错误标记", map[string]interface{}{"error": err})
		return row.With(models.ColumnAssistant, fmt.Sprintf("Error occurred during inference: %v", err)), nil
	}

	return row.With(models.ColumnAssistant, resp.Text), nil
}

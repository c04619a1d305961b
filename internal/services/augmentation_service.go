// internal/services/augmentation_service.go
package services

import (
	"context"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// AugmentationService 通过改写生成相似的数据行
type AugmentationService struct {
	model  string
	logger *utils.Logger
}

// NewAugmentationService 创建数据增强服务
func NewAugmentationService(model string, logger *utils.Logger) *AugmentationService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &AugmentationService{model: model, logger: logger}
}

// Augment 先输出标记为 No 的原始行，再输出最多 factor-1 个生成行。
// 单次生成失败只记录日志并跳过；认证失败和取消向上返回。
func (s *AugmentationService) Augment(ctx context.Context, provider llm.Provider, row models.Row, factor int, prompt, column string) ([]models.Row, error) {
	out := make([]models.Row, 0, factor)
	out = append(out, row.With(models.ColumnIsAugmented, models.AugmentedNo))

	text := row.Get(column)
	for i := 0; i < factor-1; i++ {
		resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
			SystemPrompt: prompt,
			Prompt:       text,
			Model:        s.model,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if apperrors.IsUnauthorizedError(err) {
				return nil, err
			}
			s.logger.Warn("数据增强失败，跳过该行", map[string]interface{}{
				"column":    column,
				"iteration": i + 1,
				"error":     err,
			})
			continue
		}

		generated := row.With(column, resp.Text)
		generated[models.ColumnIsAugmented] = models.AugmentedYes
		out = append(out, generated)
	}

	return out, nil
}

// internal/services/evaluation_service.go
package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// EvaluationFailedRationale 评估失败时写入的依据文本
const EvaluationFailedRationale = "An error occurred during evaluation"

var scorePattern = regexp.MustCompile(`평가 점수: (\d+)/\d+`)

// EvaluationService 按评分标准给单行打分
type EvaluationService struct {
	defaultModel string
	logger       *utils.Logger
}

// NewEvaluationService 创建评估服务，settings 未指定模型时使用 defaultModel
func NewEvaluationService(defaultModel string, logger *utils.Logger) *EvaluationService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &EvaluationService{defaultModel: defaultModel, logger: logger}
}

// ExpandPrompt 展开评估模板中的占位符
func ExpandPrompt(row models.Row, settings *models.EvaluationSettings) string {
	prompt := settings.EvaluationPrompt
	for _, column := range settings.SelectedColumns {
		prompt = strings.ReplaceAll(prompt, "{"+column+"}", row.Get(column))
	}

	scoreRange := settings.ScoreRange
	if scoreRange <= 0 {
		scoreRange = models.DefaultScoreRange
	}
	prompt = strings.ReplaceAll(prompt, "{scoreRange}", strconv.Itoa(scoreRange))

	scores := settings.ScoreCriteria.Scores()
	lines := make([]string, len(scores))
	for i, score := range scores {
		lines[i] = fmt.Sprintf("%d점: %s", score, settings.ScoreCriteria[score])
	}
	return strings.ReplaceAll(prompt, "{scoreCriteria}", strings.Join(lines, "\n"))
}

// ExtractScore 提取 "평가 점수: n/m" 中的 n，找不到时返回 N/A
func ExtractScore(text string) string {
	match := scorePattern.FindStringSubmatch(text)
	if match == nil {
		return models.SentinelNotAvailable
	}
	return match[1]
}

// Evaluate 评估单行。调用失败时写入哨兵值继续；认证失败和取消向上返回
func (s *EvaluationService) Evaluate(ctx context.Context, provider llm.Provider, row models.Row, settings *models.EvaluationSettings) (models.Row, error) {
	model := settings.Model
	if model == "" {
		model = s.defaultModel
	}

	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt: ExpandPrompt(row, settings),
		Model:  model,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if apperrors.IsUnauthorizedError(err) {
			return nil, err
		}
		s.logger.Warn("LLM评估失败", map[string]interface{}{"model": model, "error": err})
		out := row.With(models.ColumnLLMRationale, EvaluationFailedRationale)
		out[models.ColumnLLMEval] = models.SentinelError
		return out, nil
	}

	out := row.With(models.ColumnLLMRationale, resp.Text)
	out[models.ColumnLLMEval] = ExtractScore(resp.Text)
	return out, nil
}

// internal/services/pipeline_service.go
package services

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// 派生列宽度
const (
	AssistantColumnWidth   = 200
	RationaleColumnWidth   = 300
	ScoreColumnWidth       = 100
	IsAugmentedColumnWidth = 100
)

// BatchRequest 一次批处理的输入
type BatchRequest struct {
	Action      models.Action
	Rows        []models.Row
	Columns     []models.ColumnDescriptor
	Params      models.ActionParams
	Credentials models.CredentialSet
}

// BatchResult 批处理输出：替换整张表的行列表和列描述
type BatchResult struct {
	Rows      []models.Row              `json:"rows"`
	Columns   []models.ColumnDescriptor `json:"columns"`
	Processed int                       `json:"processed"`
	Total     int                       `json:"total"`
}

// PipelineService 逐行把动作请求交给 Dispatcher，并负责列结构演进
type PipelineService struct {
	dispatcher  Dispatcher
	concurrency int
	logger      *utils.Logger
}

// NewPipelineService concurrency<=1 时严格顺序处理
func NewPipelineService(dispatcher Dispatcher, concurrency int, logger *utils.Logger) *PipelineService {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &PipelineService{dispatcher: dispatcher, concurrency: concurrency, logger: logger}
}

// Validate 检查批处理前置条件，失败时批处理不会开始
func (s *PipelineService) Validate(req *BatchRequest) error {
	if len(req.Rows) == 0 {
		return apperrors.NewValidationError("Invalid or empty data array", nil)
	}

	switch req.Action {
	case models.ActionInference:
		if req.Credentials.ClientID == "" || req.Credentials.ClientSecret == "" {
			return apperrors.NewValidationError(MsgMissingClovaCredentials, nil)
		}
	case models.ActionEvaluate:
		if req.Params.EvaluationSettings == nil {
			return apperrors.NewValidationError(MsgMissingEvalSettings, nil)
		}
		if req.Credentials.OpenAIAPIKey == "" {
			return apperrors.NewValidationError(MsgMissingOpenAIKey, nil)
		}
	case models.ActionAugment:
		p := req.Params
		if p.AugmentationFactor < 1 || p.AugmentationPrompt == "" || p.SelectedColumn == "" {
			return apperrors.NewValidationError(MsgMissingAugmentParams, nil)
		}
		if req.Credentials.OpenAIAPIKey == "" {
			return apperrors.NewValidationError(MsgMissingOpenAIKey, nil)
		}
	default:
		return apperrors.NewValidationError(MsgInvalidAction, nil)
	}
	return nil
}

// EvolveSchema 为动作添加派生列，已存在的列不会重复添加
func EvolveSchema(table *models.Table, action models.Action, params models.ActionParams) {
	switch action {
	case models.ActionInference:
		index := -1
		if params.UserInput != "" {
			if i := table.ColumnIndex(params.UserInput); i >= 0 {
				index = i + 1
			}
		}
		table.InsertColumn(models.TextColumn(models.ColumnAssistant, AssistantColumnWidth), index)

	case models.ActionEvaluate:
		table.InsertColumn(models.TextColumn(models.ColumnLLMRationale, RationaleColumnWidth), table.ColumnIndex(models.ColumnLLMEval))
		scoreRange := models.DefaultScoreRange
		if params.EvaluationSettings != nil && params.EvaluationSettings.ScoreRange > 0 {
			scoreRange = params.EvaluationSettings.ScoreRange
		}
		table.AppendColumn(models.DropdownColumn(models.ColumnLLMEval, ScoreColumnWidth, scoreRange))

	case models.ActionAugment:
		table.InsertColumn(models.TextColumn(models.ColumnIsAugmented, IsAugmentedColumnWidth), 0)
	}
}

// Run 执行批处理。出现致命错误（分发失败、认证失败、取消）时，
// 返回已完成的行加上未处理的原始行，以及第一个致命错误。
func (s *PipelineService) Run(ctx context.Context, req BatchRequest, reporter ProgressReporter) (*BatchResult, error) {
	if err := s.Validate(&req); err != nil {
		return nil, err
	}
	if reporter == nil {
		reporter = ProgressReporterFunc(func(int, int) {})
	}

	table := &models.Table{Rows: models.CloneRows(req.Rows), Columns: append([]models.ColumnDescriptor{}, req.Columns...)}
	table.Normalize()
	EvolveSchema(table, req.Action, req.Params)

	total := len(table.Rows)
	slots := make([][]models.Row, total)
	filled := make([]bool, total)
	start := time.Now()

	s.logger.Info("批处理开始", map[string]interface{}{
		"action":      req.Action,
		"rows":        total,
		"concurrency": s.concurrency,
	})

	var processed int
	var runErr error
	if s.concurrency == 1 {
		processed, runErr = s.runSequential(ctx, req, table.Rows, slots, filled, reporter)
	} else {
		processed, runErr = s.runConcurrent(ctx, req, table.Rows, slots, filled, reporter)
	}

	rows := make([]models.Row, 0, total)
	for i, row := range table.Rows {
		if filled[i] {
			rows = append(rows, slots[i]...)
		} else {
			rows = append(rows, row)
		}
	}
	out := &models.Table{Rows: rows, Columns: table.Columns}
	out.Normalize()

	result := &BatchResult{Rows: out.Rows, Columns: out.Columns, Processed: processed, Total: total}

	fields := map[string]interface{}{
		"action":    req.Action,
		"processed": processed,
		"total":     total,
		"output":    len(rows),
		"duration":  time.Since(start).String(),
	}
	if runErr != nil {
		fields["error"] = runErr
		s.logger.Error("批处理中止", fields)
		return result, runErr
	}
	s.logger.Info("批处理完成", fields)
	return result, nil
}

func (s *PipelineService) dispatchRow(ctx context.Context, req BatchRequest, row models.Row) ([]models.Row, error) {
	creds := req.Credentials
	return s.dispatcher.Dispatch(ctx, &models.ActionRequest{
		Action:       req.Action,
		Data:         []models.Row{row.Clone()},
		ActionParams: req.Params,
		APIKeys:      &creds,
	})
}

func (s *PipelineService) runSequential(ctx context.Context, req BatchRequest, rows []models.Row, slots [][]models.Row, filled []bool, reporter ProgressReporter) (int, error) {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		out, err := s.dispatchRow(ctx, req, row)
		if err != nil {
			return i, err
		}
		slots[i] = out
		filled[i] = true
		reporter.Report(i+1, len(rows))
	}
	return len(rows), nil
}

// runConcurrent 有界并发；结果写入按行号预分配的槽位，保证输出顺序
func (s *PipelineService) runConcurrent(ctx context.Context, req BatchRequest, rows []models.Row, slots [][]models.Row, filled []bool, reporter ProgressReporter) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var done atomic.Int64
	for i, row := range rows {
		if gctx.Err() != nil {
			break
		}
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := s.dispatchRow(gctx, req, row)
			if err != nil {
				return err
			}
			slots[i] = out
			filled[i] = true
			reporter.Report(int(done.Add(1)), len(rows))
			return nil
		})
	}

	err := g.Wait()
	processed := int(done.Load())
	if err == nil && processed < len(rows) {
		// 父 ctx 在提交循环中途被取消
		err = ctx.Err()
	}
	return processed, err
}

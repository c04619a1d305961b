// internal/services/batch_service.go
package services

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// BatchService 在后台对会话表格执行批处理，并通过进度服务暴露状态
type BatchService struct {
	session  *SessionService
	pipeline *PipelineService
	progress *ProgressService
	timeout  time.Duration
	logger   *utils.Logger
}

// NewBatchService timeout 为整个批处理的上限，<=0 表示不限制
func NewBatchService(session *SessionService, pipeline *PipelineService, progress *ProgressService, timeout time.Duration, logger *utils.Logger) *BatchService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &BatchService{
		session:  session,
		pipeline: pipeline,
		progress: progress,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start 校验并启动批处理，返回跟踪器。凭据为空时使用会话凭据
func (s *BatchService) Start(action models.Action, params models.ActionParams, creds *models.CredentialSet) (*ProgressTracker, error) {
	credentials := s.session.Credentials()
	if creds != nil {
		credentials = *creds
	}

	snapshot, err := s.session.BeginBatch()
	if err != nil {
		return nil, err
	}

	req := BatchRequest{
		Action:      action,
		Rows:        snapshot.Rows,
		Columns:     snapshot.Columns,
		Params:      params,
		Credentials: credentials,
	}
	if err := s.pipeline.Validate(&req); err != nil {
		s.session.EndBatch(nil)
		return nil, err
	}

	tracker := s.progress.CreateTracker(action, len(req.Rows))

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	tracker.setCancel(cancel)

	go s.run(ctx, cancel, tracker, req)
	return tracker, nil
}

func (s *BatchService) run(ctx context.Context, cancel context.CancelFunc, tracker *ProgressTracker, req BatchRequest) {
	defer cancel()

	result, err := s.pipeline.Run(ctx, req, tracker)
	// 致命错误时保留已完成的行，未处理的行保持原样
	s.session.EndBatch(result)

	if err != nil {
		s.logger.Error("批处理失败", map[string]interface{}{"task_id": tracker.TaskID, "error": err})
		tracker.Fail(result, errorMessage(err))
		return
	}
	tracker.Complete(result, "批处理完成")
}

// Cancel 取消任务
func (s *BatchService) Cancel(taskID string) error {
	tracker, ok := s.progress.GetTracker(taskID)
	if !ok {
		return apperrors.NewNotFoundError("任务不存在: "+taskID, nil)
	}
	if !tracker.Cancel() {
		return apperrors.NewConflictError("任务已结束", nil)
	}
	return nil
}

// CancelAll 取消所有运行中的任务，服务关闭时调用
func (s *BatchService) CancelAll() {
	for _, tracker := range s.progress.Running() {
		tracker.Cancel()
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "batch cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "batch timed out"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

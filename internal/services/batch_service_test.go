package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

func newTestBatchService(t *testing.T, dispatcher Dispatcher) (*BatchService, *SessionService, *ProgressService) {
	t.Helper()
	logger := utils.NewNopLogger()
	session := NewSessionService(logger)
	require.NoError(t, session.ImportCSV(strings.NewReader("system,question\nbe brief,q1\nbe brief,q2\n")))
	session.SetCredentials(clovaCreds)

	progress := NewProgressService()
	pipeline := NewPipelineService(dispatcher, 1, logger)
	return NewBatchService(session, pipeline, progress, time.Minute, logger), session, progress
}

func waitDone(t *testing.T, tracker *ProgressTracker) {
	t.Helper()
	select {
	case <-tracker.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("批处理未在期限内结束")
	}
}

func TestBatchStartUpdatesSession(t *testing.T) {
	svc, session, _ := newTestBatchService(t, echoInference())

	tracker, err := svc.Start(models.ActionInference, models.ActionParams{UserInput: "question"}, nil)
	require.NoError(t, err)
	waitDone(t, tracker)

	assert.Equal(t, StatusCompleted, tracker.Snapshot().Status)
	assert.False(t, session.Busy())

	table := session.Table()
	assert.Equal(t, []string{"system", "question", "assistant", "LLM_Eval", "Human_Eval"}, table.Names())
	assert.Equal(t, "re: q2", table.Rows[1][models.ColumnAssistant])
}

func TestBatchStartRejectsInvalidRequest(t *testing.T) {
	svc, session, _ := newTestBatchService(t, echoInference())

	_, err := svc.Start(models.ActionEvaluate, models.ActionParams{}, nil)
	assert.True(t, apperrors.IsValidationError(err))
	assert.False(t, session.Busy(), "验证失败后应释放会话")
}

func TestBatchCancelKeepsCompletedRows(t *testing.T) {
	release := make(chan struct{})
	dispatcher := dispatcherFunc(func(ctx context.Context, req *models.ActionRequest) ([]models.Row, error) {
		if req.Data[0]["question"] == "q2" {
			close(release)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []models.Row{req.Data[0].With(models.ColumnAssistant, "ok")}, nil
	})
	svc, session, _ := newTestBatchService(t, dispatcher)

	tracker, err := svc.Start(models.ActionInference, models.ActionParams{UserInput: "question"}, nil)
	require.NoError(t, err)

	<-release
	// 批处理中不能再启动新任务
	_, err = svc.Start(models.ActionInference, models.ActionParams{}, nil)
	assert.True(t, apperrors.IsConflictError(err))

	require.NoError(t, svc.Cancel(tracker.TaskID))
	waitDone(t, tracker)

	snap := tracker.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "batch cancelled", snap.Error)

	rows := session.Table().Rows
	assert.Equal(t, "ok", rows[0][models.ColumnAssistant])
	assert.Equal(t, "", rows[1][models.ColumnAssistant])

	assert.True(t, apperrors.IsConflictError(svc.Cancel(tracker.TaskID)))
	assert.True(t, apperrors.IsNotFoundError(svc.Cancel("missing")))
}

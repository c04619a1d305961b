package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/presets"
	"github.com/Corphon/EvalSheet/internal/services"
	"github.com/Corphon/EvalSheet/internal/utils"
)

type dispatcherFunc func(ctx context.Context, req *models.ActionRequest) ([]models.Row, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req *models.ActionRequest) ([]models.Row, error) {
	return f(ctx, req)
}

func TestBuildParamsUsesPresets(t *testing.T) {
	defaults := presets.Default()

	params, err := buildParams(runOptions{action: "augment", column: "q"}, defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults.Augmentation.Factor, params.AugmentationFactor)
	assert.Equal(t, defaults.Augmentation.Prompt, params.AugmentationPrompt)

	params, err = buildParams(runOptions{action: "evaluate", evalColumns: []string{" q ", "", "assistant"}}, defaults)
	require.NoError(t, err)
	require.NotNil(t, params.EvaluationSettings)
	assert.Equal(t, []string{"q", "assistant"}, params.EvaluationSettings.SelectedColumns)
	assert.Equal(t, defaults.Evaluation.Model, params.EvaluationSettings.Model)
}

func TestBuildParamsReadsSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model":"gpt-4","evaluationPrompt":"{q}","scoreRange":5,"scoreCriteria":{"1":"bad"}}`), 0o644))

	params, err := buildParams(runOptions{action: "evaluate", evalSettings: path}, presets.Default())
	require.NoError(t, err)
	assert.Equal(t, 5, params.EvaluationSettings.ScoreRange)
	assert.Equal(t, "bad", params.EvaluationSettings.ScoreCriteria[1])

	_, err = buildParams(runOptions{action: "evaluate", evalSettings: filepath.Join(t.TempDir(), "missing.json")}, presets.Default())
	assert.Error(t, err)
}

func TestRunBatchFileWritesResult(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("question\nq1\nq2\n"), 0o644))

	dispatcher := dispatcherFunc(func(_ context.Context, req *models.ActionRequest) ([]models.Row, error) {
		row := req.Data[0]
		return []models.Row{row.With(models.ColumnAssistant, "re: "+row["question"])}, nil
	})
	logger := utils.NewNopLogger()
	pipeline := services.NewPipelineService(dispatcher, 1, logger)

	opts := runOptions{action: "inference", in: in, out: out, userInput: "question"}
	creds := models.CredentialSet{ClientID: "id", ClientSecret: "secret"}
	require.NoError(t, runBatchFile(context.Background(), opts, creds, presets.Default(), pipeline, logger))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := strings.TrimPrefix(string(data), "\xEF\xBB\xBF")
	assert.Equal(t, "question,assistant,LLM_Eval,Human_Eval\r\nq1,re: q1,,\r\nq2,re: q2,,\r\n", text)
}

func TestRunBatchFileRejectsMissingCredentials(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	out := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("question\nq1\n"), 0o644))

	logger := utils.NewNopLogger()
	pipeline := services.NewPipelineService(dispatcherFunc(nil), 1, logger)

	err := runBatchFile(context.Background(), runOptions{action: "inference", in: in, out: out}, models.CredentialSet{}, presets.Default(), pipeline, logger)
	require.Error(t, err)
	assert.Equal(t, services.MsgMissingClovaCredentials, err.Error())

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "验证失败时不写出文件")
}

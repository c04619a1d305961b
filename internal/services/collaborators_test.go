package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

func TestExpandPrompt(t *testing.T) {
	settings := &models.EvaluationSettings{
		SelectedColumns:  []string{"question", "answer", "missing"},
		EvaluationPrompt: "Q: {question}\nA: {answer}\nQ again: {question}\nM: [{missing}]\n{scoreCriteria}\n평가 점수: n/{scoreRange}",
		ScoreRange:       3,
		ScoreCriteria:    models.ScoreCriteria{3: "best", 1: "worst", 2: "ok"},
	}
	row := models.Row{"question": "why?", "answer": "because"}

	got := ExpandPrompt(row, settings)
	want := "Q: why?\nA: because\nQ again: why?\nM: []\n1점: worst\n2점: ok\n3점: best\n평가 점수: n/3"
	assert.Equal(t, want, got)
}

func TestExtractScore(t *testing.T) {
	tests := map[string]string{
		"평가 점수: 5/7\n- 근거 1: 좋음": "5",
		"앞부분 평가 점수: 12/10":        "12",
		"score 5/7":                 models.SentinelNotAvailable,
		"평가 점수: 5점":                 models.SentinelNotAvailable,
		"":                          models.SentinelNotAvailable,
	}
	for text, want := range tests {
		assert.Equal(t, want, ExtractScore(text), "文本: %q", text)
	}
}

func TestEvaluateSuccessAndFailure(t *testing.T) {
	svc := NewEvaluationService("gpt-3.5-turbo", utils.NewNopLogger())
	settings := &models.EvaluationSettings{SelectedColumns: []string{"q"}, EvaluationPrompt: "{q}", ScoreRange: 7}

	ok := &fakeProvider{respond: reply("평가 점수: 6/7 good")}
	out, err := svc.Evaluate(context.Background(), ok, models.Row{"q": "hi"}, settings)
	require.NoError(t, err)
	assert.Equal(t, "6", out[models.ColumnLLMEval])
	assert.Equal(t, "평가 점수: 6/7 good", out[models.ColumnLLMRationale])
	assert.Equal(t, "gpt-3.5-turbo", ok.Calls()[0].Model)
	assert.Equal(t, "hi", ok.Calls()[0].Prompt)

	failing := &fakeProvider{respond: func(int, llm.CompletionRequest) (string, error) {
		return "", errors.New("boom")
	}}
	row := models.Row{"q": "hi"}
	out, err = svc.Evaluate(context.Background(), failing, row, settings)
	require.NoError(t, err)
	assert.Equal(t, models.SentinelError, out[models.ColumnLLMEval])
	assert.Equal(t, EvaluationFailedRationale, out[models.ColumnLLMRationale])
	assert.False(t, row.Has(models.ColumnLLMEval), "原始行不应被修改")
}

func TestEvaluatePropagatesUnauthorized(t *testing.T) {
	svc := NewEvaluationService("m", utils.NewNopLogger())
	p := &fakeProvider{respond: func(int, llm.CompletionRequest) (string, error) {
		return "", apperrors.NewUnauthorizedError("bad key", nil)
	}}
	_, err := svc.Evaluate(context.Background(), p, models.Row{}, &models.EvaluationSettings{})
	assert.True(t, apperrors.IsUnauthorizedError(err))
}

func TestAugmentSkipsFailedGenerations(t *testing.T) {
	svc := NewAugmentationService("gpt-4", utils.NewNopLogger())
	p := &fakeProvider{respond: func(n int, req llm.CompletionRequest) (string, error) {
		if n == 2 {
			return "", errors.New("rate limited")
		}
		return "paraphrase of " + req.Prompt, nil
	}}

	row := models.Row{"text": "hello", "id": "1"}
	out, err := svc.Augment(context.Background(), p, row, 4, "rewrite", "text")
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, models.Row{"text": "hello", "id": "1", "is_augmented": "No"}, out[0])
	for _, r := range out[1:] {
		assert.Equal(t, "paraphrase of hello", r["text"])
		assert.Equal(t, "1", r["id"])
		assert.Equal(t, models.AugmentedYes, r[models.ColumnIsAugmented])
	}

	calls := p.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "rewrite", calls[0].SystemPrompt)
	assert.Equal(t, "gpt-4", calls[0].Model)
}

func TestAugmentFactorOneMakesNoCalls(t *testing.T) {
	svc := NewAugmentationService("gpt-4", utils.NewNopLogger())
	p := &fakeProvider{respond: reply("x")}

	out, err := svc.Augment(context.Background(), p, models.Row{"text": "a"}, 1, "p", "text")
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Empty(t, p.Calls())
}

func TestInferWritesAssistantOrErrorMarker(t *testing.T) {
	svc := NewInferenceService(utils.NewNopLogger())

	p := &fakeProvider{respond: reply("answer")}
	out, err := svc.Infer(context.Background(), p, models.Row{"sys": "be nice", "q": "hi"}, "sys", "q")
	require.NoError(t, err)
	assert.Equal(t, "answer", out[models.ColumnAssistant])
	assert.Equal(t, "be nice", p.Calls()[0].SystemPrompt)
	assert.Equal(t, "hi", p.Calls()[0].Prompt)

	// 未选择列时消息为空
	p = &fakeProvider{respond: reply("answer")}
	_, err = svc.Infer(context.Background(), p, models.Row{"q": "hi"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "", p.Calls()[0].Prompt)

	failing := &fakeProvider{respond: func(int, llm.CompletionRequest) (string, error) {
		return "", apperrors.NewMalformedResponseError("Unexpected response format", nil)
	}}
	out, err = svc.Infer(context.Background(), failing, models.Row{"q": "hi"}, "", "q")
	require.NoError(t, err)
	assert.Equal(t, "Error occurred during inference: Unexpected response format", out[models.ColumnAssistant])
}

func TestInferPropagatesUnauthorized(t *testing.T) {
	svc := NewInferenceService(utils.NewNopLogger())
	p := &fakeProvider{respond: func(int, llm.CompletionRequest) (string, error) {
		return "", apperrors.NewUnauthorizedError("expired", nil)
	}}
	_, err := svc.Infer(context.Background(), p, models.Row{}, "", "")
	assert.True(t, apperrors.IsUnauthorizedError(err))
}

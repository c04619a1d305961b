package presets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/EvalSheet/internal/models"
)

func TestLoadEmbeddedPresets(t *testing.T) {
	p, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gpt-3.5-turbo", p.Evaluation.Model)
	assert.Equal(t, 7, p.Evaluation.ScoreRange)
	assert.Equal(t, 2, p.Augmentation.Factor)
	assert.True(t, strings.HasPrefix(p.Augmentation.Prompt, "데이터 증강을 위해"))
	assert.Contains(t, p.Evaluation.Intro, "'평가기준'을 활용해야 하며, 에이전트의")
}

func TestBuildEvaluationPrompt(t *testing.T) {
	p := Default()
	prompt := p.BuildEvaluationPrompt([]string{"question", "assistant"}, models.ScoreCriteria{1: "나쁨", 3: "좋음"}, 3)

	assert.True(t, strings.HasPrefix(prompt, p.Evaluation.Intro+"\n\n"))
	assert.Contains(t, prompt, "question: {question}\nassistant: {assistant}")
	assert.Contains(t, prompt, "1점: 나쁨\n2점: \n3점: 좋음")
	assert.Contains(t, prompt, "평가 점수: n/3")
	assert.NotContains(t, prompt, "{context}")
	assert.NotContains(t, prompt, "{scoreRange}")
}

func TestDefaultEvaluationSettings(t *testing.T) {
	settings := Default().DefaultEvaluationSettings([]string{"q"})

	assert.Equal(t, "gpt-3.5-turbo", settings.Model)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, settings.ScoreCriteria.Scores())
	assert.Contains(t, settings.EvaluationPrompt, "q: {q}")
}

func TestParseRejectsInvalidPresets(t *testing.T) {
	_, err := Parse([]byte("evaluation:\n  template: '{scoreRange}'\naugmentation:\n  factor: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("evaluation:\n  template: 'no marker'\naugmentation:\n  factor: 2\n"))
	assert.Error(t, err)

	p, err := Parse([]byte("evaluation:\n  template: '{scoreRange}'\naugmentation:\n  factor: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, models.DefaultScoreRange, p.Evaluation.ScoreRange)
}

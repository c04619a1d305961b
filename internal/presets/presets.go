// internal/presets/presets.go
package presets

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Corphon/EvalSheet/internal/models"
)

//go:embed presets.yaml
var presetsYAML []byte

// EvaluationPreset 评估弹窗的默认值
type EvaluationPreset struct {
	Model       string   `yaml:"model" json:"model"`
	Models      []string `yaml:"models" json:"models"`
	ScoreRange  int      `yaml:"score_range" json:"scoreRange"`
	ScoreRanges []int    `yaml:"score_ranges" json:"scoreRanges"`
	Intro       string   `yaml:"intro" json:"intro"`
	Template    string   `yaml:"template" json:"template"`
}

// AugmentationPreset 数据增强弹窗的默认值
type AugmentationPreset struct {
	Factor int    `yaml:"factor" json:"factor"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Presets 全部默认设置
type Presets struct {
	Evaluation   EvaluationPreset   `yaml:"evaluation" json:"evaluation"`
	Augmentation AugmentationPreset `yaml:"augmentation" json:"augmentation"`
}

var (
	loadOnce sync.Once
	loaded   *Presets
	loadErr  error
)

// Load 解析内嵌的默认设置，只解析一次
func Load() (*Presets, error) {
	loadOnce.Do(func() {
		loaded, loadErr = Parse(presetsYAML)
	})
	return loaded, loadErr
}

// Default 与 Load 相同，解析失败时 panic（内嵌文件在编译期已确定）
func Default() *Presets {
	p, err := Load()
	if err != nil {
		panic(fmt.Sprintf("内嵌默认设置无效: %v", err))
	}
	return p
}

// Parse 解析并校验 YAML 格式的默认设置
func Parse(data []byte) (*Presets, error) {
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("解析默认设置失败: %w", err)
	}
	if p.Evaluation.ScoreRange <= 0 {
		p.Evaluation.ScoreRange = models.DefaultScoreRange
	}
	if p.Augmentation.Factor < 1 {
		return nil, fmt.Errorf("增强倍数必须 >= 1，当前: %d", p.Augmentation.Factor)
	}
	if !strings.Contains(p.Evaluation.Template, "{scoreRange}") {
		return nil, fmt.Errorf("评估模板缺少 {scoreRange} 占位符")
	}
	return &p, nil
}

// BuildEvaluationPrompt 组装评估提示词：
// 引导语 + 模板，{context} 展开为每个选中列的 "col: {col}" 行，
// {scoreCriteria} 展开为 1..scoreRange 的评分标准，{scoreRange} 替换为上限。
// 列占位符保留，由评估服务逐行替换。
func (p *Presets) BuildEvaluationPrompt(selectedColumns []string, criteria models.ScoreCriteria, scoreRange int) string {
	if scoreRange <= 0 {
		scoreRange = p.Evaluation.ScoreRange
	}

	contextLines := make([]string, len(selectedColumns))
	for i, col := range selectedColumns {
		contextLines[i] = fmt.Sprintf("%s: {%s}", col, col)
	}

	criteriaLines := make([]string, 0, scoreRange)
	for score := 1; score <= scoreRange; score++ {
		criteriaLines = append(criteriaLines, fmt.Sprintf("%d점: %s", score, criteria[score]))
	}

	prompt := p.Evaluation.Template
	prompt = strings.Replace(prompt, "{context}", strings.Join(contextLines, "\n"), 1)
	prompt = strings.Replace(prompt, "{scoreCriteria}", strings.Join(criteriaLines, "\n"), 1)
	prompt = strings.Replace(prompt, "{scoreRange}", strconv.Itoa(scoreRange), 1)

	return p.Evaluation.Intro + "\n\n" + prompt
}

// DefaultEvaluationSettings 按默认设置生成一份评估设置
func (p *Presets) DefaultEvaluationSettings(selectedColumns []string) models.EvaluationSettings {
	criteria := make(models.ScoreCriteria, p.Evaluation.ScoreRange)
	for score := 1; score <= p.Evaluation.ScoreRange; score++ {
		criteria[score] = ""
	}
	return models.EvaluationSettings{
		Model:            p.Evaluation.Model,
		SelectedColumns:  selectedColumns,
		EvaluationPrompt: p.BuildEvaluationPrompt(selectedColumns, criteria, p.Evaluation.ScoreRange),
		ScoreRange:       p.Evaluation.ScoreRange,
		ScoreCriteria:    criteria,
	}
}

// internal/models/action.go
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Action 批处理动作
type Action string

const (
	ActionInference Action = "inference"
	ActionEvaluate  Action = "evaluate"
	ActionAugment   Action = "augment"
)

// Valid 判断动作是否已知
func (a Action) Valid() bool {
	switch a {
	case ActionInference, ActionEvaluate, ActionAugment:
		return true
	}
	return false
}

// CredentialSet 会话期间保存的三个凭据，不做持久化
type CredentialSet struct {
	OpenAIAPIKey string `json:"OPENAI_API_KEY"`
	ClientID     string `json:"CLIENT_ID"`
	ClientSecret string `json:"CLIENT_SECRET"`
}

// Status 只暴露是否已配置
func (c CredentialSet) Status() map[string]bool {
	return map[string]bool{
		"has_openai_api_key": c.OpenAIAPIKey != "",
		"has_client_id":      c.ClientID != "",
		"has_client_secret":  c.ClientSecret != "",
	}
}

// ScoreCriteria 分数 -> 评分标准描述
type ScoreCriteria map[int]string

// UnmarshalJSON 接受以文本为键的对象（{"1": "..."}）
func (s *ScoreCriteria) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ScoreCriteria, len(raw))
	for key, value := range raw {
		score, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("评分标准的键必须是整数: %q", key)
		}
		out[score] = value
	}
	*s = out
	return nil
}

// Scores 升序返回所有分数
func (s ScoreCriteria) Scores() []int {
	scores := make([]int, 0, len(s))
	for score := range s {
		scores = append(scores, score)
	}
	sort.Ints(scores)
	return scores
}

// EvaluationSettings LLM评估设置
type EvaluationSettings struct {
	Model            string        `json:"model"`
	SelectedColumns  []string      `json:"selectedColumns"`
	EvaluationPrompt string        `json:"evaluationPrompt"`
	ScoreRange       int           `json:"scoreRange"`
	ScoreCriteria    ScoreCriteria `json:"scoreCriteria"`
}

// ActionParams 动作相关参数
type ActionParams struct {
	SystemPrompt       string              `json:"systemPrompt,omitempty"`
	UserInput          string              `json:"userInput,omitempty"`
	AugmentationFactor int                 `json:"augmentationFactor,omitempty"`
	AugmentationPrompt string              `json:"augmentationPrompt,omitempty"`
	SelectedColumn     string              `json:"selectedColumn,omitempty"`
	EvaluationSettings *EvaluationSettings `json:"evaluationSettings,omitempty"`
}

// ActionRequest 分发边界的请求体，每次只携带一行
type ActionRequest struct {
	Action Action `json:"action"`
	Data   []Row  `json:"data"`
	ActionParams
	APIKeys     *CredentialSet `json:"apiKeys,omitempty"`
	Credentials *CredentialSet `json:"credentials,omitempty"`
}

// CredentialSet 返回请求携带的凭据，apiKeys 优先
func (r *ActionRequest) CredentialSet() CredentialSet {
	if r.APIKeys != nil {
		return *r.APIKeys
	}
	if r.Credentials != nil {
		return *r.Credentials
	}
	return CredentialSet{}
}

// ActionResponse 分发边界的响应体
type ActionResponse struct {
	Result []Row  `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Stack  string `json:"stack,omitempty"`
}

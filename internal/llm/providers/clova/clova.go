// internal/llm/providers/clova/clova.go
package clova

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
)

const (
	// 成功状态码（字符串）
	statusOK = "20000"

	defaultModel = "HCX-DASH-001"
)

// 固定生成参数
const (
	maxTokens        = 400
	temperature      = 0.5
	topK             = 0
	topP             = 0.8
	repeatPenalty    = 5.0
	includeAIFilters = true
	seed             = 0
)

func init() {
	llm.Register("clova", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{"HCX-DASH-001", "HCX-003"},
		}
	})
}

// Provider 通过 client credentials 换取访问令牌的对话补全提供者
type Provider struct {
	host              string
	clientID          string
	clientSecret      string
	defaultModel      string
	client            *http.Client
	recommendedModels []string

	tokenMu     sync.Mutex
	accessToken string
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Messages         []message `json:"messages"`
	MaxTokens        int       `json:"maxTokens"`
	Temperature      float64   `json:"temperature"`
	TopK             int       `json:"topK"`
	TopP             float64   `json:"topP"`
	RepeatPenalty    float64   `json:"repeatPenalty"`
	StopBefore       []string  `json:"stopBefore"`
	IncludeAIFilters bool      `json:"includeAiFilters"`
	Seed             int       `json:"seed"`
}

type completionResponse struct {
	Status struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Result *struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		StopReason   string `json:"stopReason"`
		InputLength  int    `json:"inputLength"`
		OutputLength int    `json:"outputLength"`
	} `json:"result"`
}

func (p *Provider) Initialize(config map[string]string) error {
	clientID, secret := config["client_id"], config["client_secret"]
	if clientID == "" || secret == "" {
		return apperrors.NewValidationError("CLIENT_ID 或 CLIENT_SECRET 未提供", nil)
	}
	host := strings.TrimRight(config["host"], "/")
	if host == "" {
		return apperrors.NewValidationError("Clova 服务地址未配置", nil)
	}

	p.host = host
	p.clientID = clientID
	p.clientSecret = secret

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = defaultModel
	}

	timeout := 60 * time.Second
	if s, exists := config["timeout_seconds"]; exists {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		}
	}
	p.client = &http.Client{Timeout: timeout}

	return nil
}

func (p *Provider) GetName() string {
	return "Clova"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// CompleteText 执行一次对话补全，返回去除首尾空白的内容
func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body, err := json.Marshal(completionRequest{
		Messages: []message{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		MaxTokens:        maxTokens,
		Temperature:      temperature,
		TopK:             topK,
		TopP:             topP,
		RepeatPenalty:    repeatPenalty,
		StopBefore:       []string{},
		IncludeAIFilters: includeAIFilters,
		Seed:             seed,
	})
	if err != nil {
		return nil, err
	}

	resp, err := p.execute(ctx, model, body)
	if err != nil {
		return nil, err
	}

	if resp.Status.Code != statusOK || resp.Result == nil || resp.Result.Message.Content == "" {
		return nil, apperrors.NewMalformedResponseError(
			fmt.Sprintf("Unexpected response format (status=%q)", resp.Status.Code), nil)
	}

	return &llm.CompletionResponse{
		Text:         strings.TrimSpace(resp.Result.Message.Content),
		FinishReason: resp.Result.StopReason,
		PromptTokens: resp.Result.InputLength,
		OutputTokens: resp.Result.OutputLength,
		TokensUsed:   resp.Result.InputLength + resp.Result.OutputLength,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// execute 发送补全请求；401 时清除令牌、重新获取一次并重试一次
func (p *Provider) execute(ctx context.Context, model string, body []byte) (*completionResponse, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	status, data, err := p.post(ctx, model, token, body)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		p.clearToken()
		token, err = p.token(ctx)
		if err != nil {
			return nil, err
		}
		status, data, err = p.post(ctx, model, token, body)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, apperrors.NewUnauthorizedError("Clova 认证失败，重新获取令牌后仍被拒绝", nil)
		}
	}

	if status < 200 || status >= 300 {
		return nil, apperrors.NewTransportError(fmt.Sprintf("Clova API错误(%d): %s", status, truncate(data)), nil)
	}

	var resp completionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apperrors.NewMalformedResponseError("无法解析 Clova 响应", err)
	}
	return &resp, nil
}

func (p *Provider) post(ctx context.Context, model, token string, body []byte) (int, []byte, error) {
	url := fmt.Sprintf("%s/v1/chat-completions/%s", p.host, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, nil, wrapTransport(ctx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return 0, nil, apperrors.NewTransportError("读取 Clova 响应失败", err)
	}
	return httpResp.StatusCode, data, nil
}

// token 返回缓存的访问令牌，必要时获取新令牌
func (p *Provider) token(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" {
		return p.accessToken, nil
	}

	url := p.host + "/v1/auth/token?existingToken=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	httpReq.Header.Set("Authorization", "Basic "+encoded)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", wrapTransport(ctx, err)
	}
	defer httpResp.Body.Close()

	data, _ := io.ReadAll(httpResp.Body)
	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return "", apperrors.NewUnauthorizedError(fmt.Sprintf("获取访问令牌被拒绝(%d)", httpResp.StatusCode), nil)
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		return "", apperrors.NewTransportError(fmt.Sprintf("获取访问令牌失败(%d): %s", httpResp.StatusCode, truncate(data)), nil)
	}

	var tokenResp struct {
		Result struct {
			AccessToken string `json:"accessToken"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &tokenResp); err != nil || tokenResp.Result.AccessToken == "" {
		return "", apperrors.NewMalformedResponseError("令牌响应中缺少 accessToken", err)
	}

	p.accessToken = tokenResp.Result.AccessToken
	return p.accessToken, nil
}

func (p *Provider) clearToken() {
	p.tokenMu.Lock()
	p.accessToken = ""
	p.tokenMu.Unlock()
}

func wrapTransport(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewAppError(apperrors.ErrorTypeTimeout, "Clova 请求超时", err)
	}
	return apperrors.NewTransportError("Clova 请求失败", err)
}

func truncate(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}

// internal/client/dispatcher.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
)

// Dispatcher 通过 HTTP 调用远端 POST /api/llm，实现 services.Dispatcher
type Dispatcher struct {
	endpoint string
	client   *http.Client
}

// New baseURL 形如 http://localhost:8080
func New(baseURL string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Dispatcher{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/llm",
		client:   &http.Client{Timeout: timeout},
	}
}

// Dispatch 发送单行请求。非2xx响应返回带状态码的传输错误
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.ActionRequest) ([]models.Row, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewTransportError("请求分发服务失败", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.NewTransportError("读取分发响应失败", err)
	}

	var resp models.ActionResponse
	decodeErr := json.Unmarshal(data, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP error! status: %d", httpResp.StatusCode)
		if decodeErr == nil && resp.Error != "" {
			msg += ": " + resp.Error
		}
		errType := apperrors.ErrorTypeTransport
		switch httpResp.StatusCode {
		case http.StatusBadRequest:
			errType = apperrors.ErrorTypeValidation
		case http.StatusUnauthorized:
			errType = apperrors.ErrorTypeUnauthorized
		}
		return nil, apperrors.NewAppError(errType, msg, nil)
	}

	if decodeErr != nil || resp.Result == nil {
		return nil, apperrors.NewMalformedResponseError("Invalid response from server", decodeErr)
	}
	return resp.Result, nil
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
)

func TestDispatchSendsSingleRowRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/llm", r.URL.Path)

		var raw map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.JSONEq(t, `"augment"`, string(raw["action"]))
		assert.JSONEq(t, `[{"t":"x"}]`, string(raw["data"]))
		assert.JSONEq(t, `2`, string(raw["augmentationFactor"]))
		assert.Contains(t, string(raw["apiKeys"]), "OPENAI_API_KEY")

		_, _ = w.Write([]byte(`{"result":[{"t":"x","is_augmented":"No"},{"t":"y","is_augmented":"Yes"}]}`))
	}))
	defer server.Close()

	d := New(server.URL+"/", time.Second)
	rows, err := d.Dispatch(context.Background(), &models.ActionRequest{
		Action:       models.ActionAugment,
		Data:         []models.Row{{"t": "x"}},
		ActionParams: models.ActionParams{AugmentationFactor: 2, AugmentationPrompt: "p", SelectedColumn: "t"},
		APIKeys:      &models.CredentialSet{OpenAIAPIKey: "sk"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Yes", rows[1][models.ColumnIsAugmented])
}

func TestDispatchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
		msg    string
	}{
		{"参数错误", http.StatusBadRequest, `{"error":"Invalid action"}`, apperrors.IsValidationError, "HTTP error! status: 400: Invalid action"},
		{"认证失败", http.StatusUnauthorized, `{"error":"expired"}`, apperrors.IsUnauthorizedError, "HTTP error! status: 401: expired"},
		{"服务器错误", http.StatusInternalServerError, `oops`, apperrors.IsTransportError, "HTTP error! status: 500"},
		{"缺少结果", http.StatusOK, `{}`, apperrors.IsMalformedResponseError, "Invalid response from server"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := New(server.URL, time.Second).Dispatch(context.Background(), &models.ActionRequest{Action: models.ActionInference})
			require.Error(t, err)
			assert.True(t, tt.check(err), "错误类型不符: %v", err)
			assert.Equal(t, tt.msg, err.Error())
		})
	}
}

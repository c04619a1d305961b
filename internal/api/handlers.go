// internal/api/handlers.go
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/EvalSheet/internal/config"
	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/llm"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/presets"
	"github.com/Corphon/EvalSheet/internal/services"
	"github.com/Corphon/EvalSheet/internal/utils"
)

const sseHeartbeatInterval = 15 * time.Second

// Handler 处理API请求
type Handler struct {
	Session       *services.SessionService
	Batch         *services.BatchService
	Progress      *services.ProgressService
	Dispatcher    services.Dispatcher
	Visualization *services.VisualizationService
	Presets       *presets.Presets
	Hub           *ProgressHub
	Response      *ResponseHelper
	Metrics       *utils.MetricsCollector

	config *config.Config
	logger *utils.Logger
}

// tableView 表格及会话状态
type tableView struct {
	Columns []models.ColumnDescriptor `json:"columns"`
	Rows    []models.Row              `json:"rows"`
	Busy    bool                      `json:"busy"`
}

func (h *Handler) currentTable() tableView {
	table := h.Session.Table()
	return tableView{Columns: table.Columns, Rows: table.Rows, Busy: h.Session.Busy()}
}

// ========================================
// 分发端点
// ========================================

// DispatchLLM 处理 POST /api/llm。响应不使用统一格式：成功为 {result}，失败为 {error, stack?}
func (h *Handler) DispatchLLM(c *gin.Context) {
	var req models.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.dispatchError(c, apperrors.NewValidationError(services.MsgInvalidRequestData, err))
		return
	}

	rows, err := h.Dispatcher.Dispatch(c.Request.Context(), &req)
	if err != nil {
		h.dispatchError(c, err)
		return
	}
	if rows == nil {
		rows = []models.Row{}
	}
	c.JSON(http.StatusOK, gin.H{"result": rows})
}

func (h *Handler) dispatchError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	resp := models.ActionResponse{Error: err.Error()}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
	}
	if h.config.DebugMode {
		resp.Stack = fmt.Sprintf("%+v", err)
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("分发请求失败", map[string]interface{}{
			"error":      err,
			"request_id": c.GetString(requestIDKey),
		})
	}
	c.JSON(status, resp)
}

// ========================================
// 表格会话
// ========================================

// GetTable 返回当前表格
func (h *Handler) GetTable(c *gin.Context) {
	h.Response.Success(c, h.currentTable())
}

// ImportTable 上传 CSV 替换当前表格
func (h *Handler) ImportTable(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "获取上传文件失败", err.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "读取上传文件失败")
		return
	}
	defer file.Close()

	if err := h.Session.ImportCSV(file); err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.FromErrorWithCode(c, err, ErrorCSVInvalid)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	h.logger.Info("CSV 已导入", map[string]interface{}{
		"filename": fileHeader.Filename,
		"size":     fileHeader.Size,
	})
	h.Response.Success(c, h.currentTable(), "CSV 导入成功")
}

// ExportTable 下载当前表格（带 BOM 的 UTF-8 CSV）
func (h *Handler) ExportTable(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.Session.ExportCSV(&buf); err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorExportFailed, "导出失败")
		return
	}
	h.Response.FileResponse(c, buf.Bytes(), "data.csv", "text/csv; charset=utf-8")
}

// EditCell 修改单元格
func (h *Handler) EditCell(c *gin.Context) {
	var req struct {
		Row    *int   `json:"row" binding:"required"`
		Column string `json:"column" binding:"required"`
		Value  string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}

	if err := h.Session.EditCell(*req.Row, req.Column, req.Value); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"row": *req.Row, "column": req.Column, "value": req.Value})
}

// AddColumn 新增列
func (h *Handler) AddColumn(c *gin.Context) {
	var req struct {
		Name       string            `json:"name" binding:"required"`
		Type       models.ColumnType `json:"type"`
		ScoreRange int               `json:"scoreRange"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}
	if req.Type == "" {
		req.Type = models.ColumnTypeText
	}

	column, err := h.Session.AddColumn(req.Name, req.Type, req.ScoreRange)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, column, "列已添加")
}

// DeleteColumn 删除列
func (h *Handler) DeleteColumn(c *gin.Context) {
	name := c.Param("name")
	if err := h.Session.DeleteColumn(name); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"name": name}, "列已删除")
}

// ResizeColumn 修改列宽
func (h *Handler) ResizeColumn(c *gin.Context) {
	var req struct {
		Width int `json:"width" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}

	name := c.Param("name")
	if err := h.Session.ResizeColumn(name, req.Width); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"name": name, "width": req.Width})
}

// ========================================
// 凭据
// ========================================

// GetCredentials 只返回是否已配置
func (h *Handler) GetCredentials(c *gin.Context) {
	h.Response.Success(c, h.Session.Credentials().Status())
}

// UpdateCredentials 替换会话凭据
func (h *Handler) UpdateCredentials(c *gin.Context) {
	var creds models.CredentialSet
	if err := c.ShouldBindJSON(&creds); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}

	h.Session.SetCredentials(creds)
	h.Response.Success(c, creds.Status(), "凭据已更新")
}

// ========================================
// 批处理与进度
// ========================================

// StartBatch 在后台对当前表格执行动作
func (h *Handler) StartBatch(c *gin.Context) {
	var req struct {
		Action models.Action `json:"action" binding:"required"`
		models.ActionParams
		Credentials *models.CredentialSet `json:"credentials,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}

	tracker, err := h.Batch.Start(req.Action, req.ActionParams, req.Credentials)
	if err != nil {
		if apperrors.IsConflictError(err) {
			h.Response.FromErrorWithCode(c, err, ErrorSessionBusy)
			return
		}
		h.Response.FromError(c, err)
		return
	}

	snapshot := tracker.Snapshot()
	h.Response.Accepted(c, gin.H{
		"task_id": snapshot.TaskID,
		"action":  snapshot.Action,
		"total":   snapshot.Total,
	}, "批处理已开始，请订阅进度更新")
}

// GetBatch 返回任务状态，结束后附带结果
func (h *Handler) GetBatch(c *gin.Context) {
	tracker, ok := h.Progress.GetTracker(c.Param("taskID"))
	if !ok {
		h.Response.NotFound(c, ErrorTaskNotFound, "任务不存在")
		return
	}

	data := gin.H{"progress": tracker.Snapshot()}
	if result, finished := tracker.Result(); finished && result != nil {
		data["result"] = result
	}
	h.Response.Success(c, data)
}

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	tracker, exists := h.Progress.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, ErrorTaskNotFound, "任务不存在")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	writeEvent(c, "connected", gin.H{"message": "连接已建立", "task_id": tracker.TaskID})

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(c, "progress", update)
			if update.Status != services.StatusRunning {
				return
			}
		case <-tracker.Done:
			// 订阅通道可能因已满丢失最终状态，这里补发一次
			writeEvent(c, "progress", tracker.Snapshot())
			return
		case <-ticker.C:
			writeEvent(c, "heartbeat", gin.H{"time": time.Now().Unix()})
		}
	}
}

func writeEvent(c *gin.Context, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	c.Writer.Flush()
}

// CancelBatch 取消正在进行的批处理
func (h *Handler) CancelBatch(c *gin.Context) {
	taskID := c.Param("taskID")
	if err := h.Batch.Cancel(taskID); err != nil {
		switch {
		case apperrors.IsNotFoundError(err):
			h.Response.NotFound(c, ErrorTaskNotFound, "任务不存在")
		case apperrors.IsConflictError(err):
			h.Response.FromErrorWithCode(c, err, ErrorTaskFinished)
		default:
			h.Response.FromError(c, err)
		}
		return
	}
	h.Response.Success(c, gin.H{"task_id": taskID}, "任务已取消")
}

// ========================================
// 可视化与预设
// ========================================

// Visualize 计算选中列的平均值，未提供 rows 时使用当前表格
func (h *Handler) Visualize(c *gin.Context) {
	var req struct {
		Columns   []string           `json:"columns"`
		ChartType services.ChartType `json:"chartType"`
		Rows      []models.Row       `json:"rows,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}

	rows := req.Rows
	if rows == nil {
		rows = h.Session.Table().Rows
	}

	result, err := h.Visualization.Aggregate(rows, req.Columns, req.ChartType)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// GetPresets 返回评估与增强的默认设置
func (h *Handler) GetPresets(c *gin.Context) {
	h.Response.Success(c, h.Presets)
}

// BuildEvaluationPrompt 按默认模板生成评估提示词
func (h *Handler) BuildEvaluationPrompt(c *gin.Context) {
	var req struct {
		SelectedColumns []string             `json:"selectedColumns"`
		ScoreRange      int                  `json:"scoreRange"`
		ScoreCriteria   models.ScoreCriteria `json:"scoreCriteria"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}
	if len(req.SelectedColumns) == 0 {
		h.Response.BadRequest(c, "至少选择一列")
		return
	}

	prompt := h.Presets.BuildEvaluationPrompt(req.SelectedColumns, req.ScoreCriteria, req.ScoreRange)
	h.Response.Success(c, gin.H{"evaluationPrompt": prompt})
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	running := len(h.Progress.Running())
	clients := 0
	if h.Hub != nil {
		clients = h.Hub.ClientCount()
	}
	body := gin.H{
		"status":        "ok",
		"busy":          h.Session.Busy(),
		"running_tasks": running,
		"ws_clients":    clients,
		"providers":     llm.ListProviders(),
	}
	if h.Metrics != nil {
		body["metrics"] = h.Metrics.GetMetrics()
	}
	c.JSON(http.StatusOK, body)
}

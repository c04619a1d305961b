// internal/api/router.go
package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/EvalSheet/internal/config"
	"github.com/Corphon/EvalSheet/internal/di"
	"github.com/Corphon/EvalSheet/internal/presets"
	"github.com/Corphon/EvalSheet/internal/services"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// lookup 从容器中取出指定类型的服务
func lookup[T any](container *di.Container, name string) (T, error) {
	service, ok := container.Get(name).(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s 服务未正确初始化", name)
	}
	return service, nil
}

// NewHandler 从容器中组装处理器
func NewHandler(container *di.Container, cfg *config.Config, logger *utils.Logger) (*Handler, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}

	session, err := lookup[*services.SessionService](container, "session")
	if err != nil {
		return nil, err
	}
	batch, err := lookup[*services.BatchService](container, "batch")
	if err != nil {
		return nil, err
	}
	progress, err := lookup[*services.ProgressService](container, "progress")
	if err != nil {
		return nil, err
	}
	dispatcher, err := lookup[services.Dispatcher](container, "dispatcher")
	if err != nil {
		return nil, err
	}
	visualization, err := lookup[*services.VisualizationService](container, "visualization")
	if err != nil {
		return nil, err
	}
	defaults, err := lookup[*presets.Presets](container, "presets")
	if err != nil {
		return nil, err
	}

	// 指标可选
	metrics, _ := container.Get("metrics").(*utils.MetricsCollector)

	return &Handler{
		Metrics:       metrics,
		Session:       session,
		Batch:         batch,
		Progress:      progress,
		Dispatcher:    dispatcher,
		Visualization: visualization,
		Presets:       defaults,
		Response:      NewResponseHelper(cfg.DebugMode),
		config:        cfg,
		logger:        logger,
	}, nil
}

// SetupRouter 配置HTTP路由。返回的 ProgressHub 需要在关闭服务器时 Close
func SetupRouter(container *di.Container, cfg *config.Config, logger *utils.Logger) (*gin.Engine, *ProgressHub, error) {
	handler, err := NewHandler(container, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	hub := NewProgressHub(handler.logger)
	handler.Hub = hub
	handler.Progress.AddListener(hub.Publish)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(loggingMiddleware(handler.logger, handler.Metrics))
	r.Use(corsMiddleware())

	r.GET("/healthz", handler.Health)
	r.GET("/ws/progress", hub.ServeWS)

	api := r.Group("/api")
	{
		// 限流只作用于会调用上游 LLM 的端点
		upstream := api.Group("")
		if cfg.DispatchRateLimit > 0 {
			upstream.Use(NewRateLimiter(cfg.DispatchRateLimit, time.Minute).Middleware())
		}
		upstream.POST("/llm", handler.DispatchLLM)
		upstream.POST("/batch", handler.StartBatch)

		// 表格会话
		tableGroup := api.Group("/table")
		{
			tableGroup.GET("", handler.GetTable)
			tableGroup.POST("/import", handler.ImportTable)
			tableGroup.GET("/export", handler.ExportTable)
			tableGroup.PUT("/cells", handler.EditCell)
			tableGroup.POST("/columns", handler.AddColumn)
			tableGroup.DELETE("/columns/:name", handler.DeleteColumn)
			tableGroup.PUT("/columns/:name/width", handler.ResizeColumn)
		}

		// 凭据
		api.GET("/credentials", handler.GetCredentials)
		api.PUT("/credentials", handler.UpdateCredentials)

		// 批处理与进度
		api.GET("/batch/:taskID", handler.GetBatch)
		api.GET("/progress/:taskID", handler.SubscribeProgress)
		api.POST("/cancel/:taskID", handler.CancelBatch)

		// 可视化与预设
		api.POST("/visualize", handler.Visualize)
		api.GET("/presets", handler.GetPresets)
		api.POST("/presets/evaluation-prompt", handler.BuildEvaluationPrompt)
	}

	return r, hub, nil
}

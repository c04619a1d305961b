// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/EvalSheet/internal/api"
	"github.com/Corphon/EvalSheet/internal/config"
	"github.com/Corphon/EvalSheet/internal/di"
	"github.com/Corphon/EvalSheet/internal/presets"
	"github.com/Corphon/EvalSheet/internal/services"
	"github.com/Corphon/EvalSheet/internal/utils"

	// 注册提供者
	_ "github.com/Corphon/EvalSheet/internal/llm/providers/clova"
	_ "github.com/Corphon/EvalSheet/internal/llm/providers/openai"
)

const (
	shutdownTimeout     = 30 * time.Second
	taskCleanupInterval = 10 * time.Minute
	taskRetention       = time.Hour
)

// App 组装好的服务进程
type App struct {
	Config    *config.Config
	Container *di.Container
	Router    *gin.Engine
	Hub       *api.ProgressHub

	batch    *services.BatchService
	progress *services.ProgressService
	logger   *utils.Logger
}

// InitServices 按依赖顺序创建所有服务并注册到容器
func InitServices(container *di.Container, cfg *config.Config, logger *utils.Logger) error {
	defaults, err := presets.Load()
	if err != nil {
		return fmt.Errorf("加载默认设置失败: %w", err)
	}
	container.Register("presets", defaults)

	metrics := utils.NewMetricsCollector()
	container.Register("metrics", metrics)

	progress := services.NewProgressService()
	container.Register("progress", progress)

	session := services.NewSessionService(logger)
	container.Register("session", session)

	dispatcher := services.NewDispatcherService(cfg, nil, logger)
	dispatcher.SetMetrics(metrics)
	container.Register("dispatcher", dispatcher)

	pipeline := services.NewPipelineService(dispatcher, cfg.BatchConcurrency, logger)
	container.Register("pipeline", pipeline)

	batch := services.NewBatchService(session, pipeline, progress, cfg.BatchTimeout, logger)
	container.Register("batch", batch)
	container.OnClose(batch.CancelAll)

	container.Register("visualization", services.NewVisualizationService())

	logger.Info("服务初始化完成", map[string]interface{}{
		"services":    container.GetNames(),
		"concurrency": cfg.BatchConcurrency,
	})
	return nil
}

// New 创建容器、服务与路由
func New(cfg *config.Config, logger *utils.Logger) (*App, error) {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	container := di.NewContainer()
	if err := InitServices(container, cfg, logger); err != nil {
		return nil, err
	}

	router, hub, err := api.SetupRouter(container, cfg, logger)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("设置路由失败: %w", err)
	}
	container.OnClose(hub.Close)

	return &App{
		Config:    cfg,
		Container: container,
		Router:    router,
		Hub:       hub,
		batch:     container.MustGet("batch").(*services.BatchService),
		progress:  container.MustGet("progress").(*services.ProgressService),
		logger:    logger,
	}, nil
}

// Run 启动HTTP服务器，ctx 结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	a.logger.Info("服务器已启动", map[string]interface{}{"port": a.Config.Port})

	ticker := time.NewTicker(taskCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-serveErr:
			a.Close()
			if ok && err != nil {
				return fmt.Errorf("启动服务器失败: %w", err)
			}
			return nil
		case <-ticker.C:
			if removed := a.progress.CleanupCompletedTasks(taskRetention); removed > 0 {
				a.logger.Debug("已清理过期任务", map[string]interface{}{"removed": removed})
			}
		case <-ctx.Done():
			return a.shutdown(srv, serveErr)
		}
	}
}

func (a *App) shutdown(srv *http.Server, serveErr <-chan error) error {
	a.logger.Info("正在关闭服务器...", nil)

	// 先取消批处理，SSE 连接随任务结束而关闭
	a.batch.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	<-serveErr
	a.Close()

	if err != nil {
		return fmt.Errorf("服务器强制关闭: %w", err)
	}
	a.logger.Info("服务器优雅关闭完成", nil)
	return nil
}

// Close 释放容器中的资源
func (a *App) Close() {
	a.Container.Close()
}

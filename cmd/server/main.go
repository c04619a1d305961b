// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Corphon/EvalSheet/internal/app"
	"github.com/Corphon/EvalSheet/internal/config"
	"github.com/Corphon/EvalSheet/internal/utils"
)

var rootCmd = &cobra.Command{
	Use:           "evalsheet",
	Short:         "CSV 表格的 LLM 推理、评估与数据增强服务",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动HTTP服务器（默认命令）",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志
func setup() (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "evalsheet.log")); err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger := utils.GetLogger()
	level := utils.ParseLogLevel(cfg.LogLevel)
	if cfg.DebugMode {
		level = utils.DEBUG
	}
	logger.SetLogLevel(level)

	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	logger.Info("启动 EvalSheet 服务器", map[string]interface{}{
		"port":        cfg.Port,
		"debug":       cfg.DebugMode,
		"concurrency": cfg.BatchConcurrency,
	})

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	return a.Run(cmd.Context())
}

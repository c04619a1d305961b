// cmd/server/run.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Corphon/EvalSheet/internal/client"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/presets"
	"github.com/Corphon/EvalSheet/internal/services"
	"github.com/Corphon/EvalSheet/internal/utils"
)

// runOptions run 命令的参数
type runOptions struct {
	action      string
	in          string
	out         string
	server      string
	concurrency int

	systemPrompt string
	userInput    string

	factor int
	prompt string
	column string

	evalSettings string
	evalColumns  []string
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "对 CSV 文件执行一次批处理并写出结果",
	Long: `读取 CSV 文件，逐行执行 inference / evaluate / augment，结果写入新的 CSV 文件。
凭据从环境变量 OPENAI_API_KEY、CLIENT_ID、CLIENT_SECRET 读取。
指定 --server 时通过远程 /api/llm 分发，否则在本进程内调用模型服务。`,
	Example: `  evalsheet run --action inference --in data.csv --out out.csv --system-prompt system --user-input question
  evalsheet run --action evaluate --in out.csv --out scored.csv --eval-columns question,assistant
  evalsheet run --action augment --in data.csv --out more.csv --column question --factor 3`,
	RunE: runBatchCommand,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.action, "action", "", "动作: inference | evaluate | augment")
	f.StringVar(&runOpts.in, "in", "", "输入 CSV 文件")
	f.StringVar(&runOpts.out, "out", "", "输出 CSV 文件")
	f.StringVar(&runOpts.server, "server", "", "远程分发服务地址，例如 http://localhost:8080")
	f.IntVar(&runOpts.concurrency, "concurrency", 0, "并发行数，0 表示使用 BATCH_CONCURRENCY")
	f.StringVar(&runOpts.systemPrompt, "system-prompt", "", "inference: 作为 system 消息的列名")
	f.StringVar(&runOpts.userInput, "user-input", "", "inference: 作为 user 消息的列名")
	f.IntVar(&runOpts.factor, "factor", 0, "augment: 增强倍数，0 表示使用默认设置")
	f.StringVar(&runOpts.prompt, "prompt", "", "augment: 增强提示词，为空时使用默认设置")
	f.StringVar(&runOpts.column, "column", "", "augment: 要改写的列")
	f.StringVar(&runOpts.evalSettings, "eval-settings", "", "evaluate: 评估设置 JSON 文件")
	f.StringSliceVar(&runOpts.evalColumns, "eval-columns", nil, "evaluate: 未提供设置文件时，按默认模板评估这些列")

	_ = runCmd.MarkFlagRequired("action")
	_ = runCmd.MarkFlagRequired("in")
	_ = runCmd.MarkFlagRequired("out")
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Close()

	var dispatcher services.Dispatcher
	if runOpts.server != "" {
		dispatcher = client.New(runOpts.server, cfg.DispatchTimeout)
	} else {
		dispatcher = services.NewDispatcherService(cfg, nil, logger)
	}

	concurrency := runOpts.concurrency
	if concurrency <= 0 {
		concurrency = cfg.BatchConcurrency
	}

	creds := models.CredentialSet{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		ClientID:     os.Getenv("CLIENT_ID"),
		ClientSecret: os.Getenv("CLIENT_SECRET"),
	}

	pipeline := services.NewPipelineService(dispatcher, concurrency, logger)
	return runBatchFile(cmd.Context(), runOpts, creds, presets.Default(), pipeline, logger)
}

// buildParams 根据命令行参数和默认设置组装动作参数
func buildParams(opts runOptions, defaults *presets.Presets) (models.ActionParams, error) {
	params := models.ActionParams{
		SystemPrompt:       opts.systemPrompt,
		UserInput:          opts.userInput,
		AugmentationFactor: opts.factor,
		AugmentationPrompt: opts.prompt,
		SelectedColumn:     opts.column,
	}

	switch models.Action(opts.action) {
	case models.ActionAugment:
		if params.AugmentationFactor == 0 {
			params.AugmentationFactor = defaults.Augmentation.Factor
		}
		if params.AugmentationPrompt == "" {
			params.AugmentationPrompt = defaults.Augmentation.Prompt
		}

	case models.ActionEvaluate:
		switch {
		case opts.evalSettings != "":
			data, err := os.ReadFile(opts.evalSettings)
			if err != nil {
				return params, fmt.Errorf("读取评估设置失败: %w", err)
			}
			var settings models.EvaluationSettings
			if err := json.Unmarshal(data, &settings); err != nil {
				return params, fmt.Errorf("解析评估设置失败: %w", err)
			}
			params.EvaluationSettings = &settings
		case len(opts.evalColumns) > 0:
			settings := defaults.DefaultEvaluationSettings(trimAll(opts.evalColumns))
			params.EvaluationSettings = &settings
		}
	}
	return params, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// runBatchFile 读取输入文件、执行批处理并写出结果。中途失败时仍写出已完成的部分
func runBatchFile(ctx context.Context, opts runOptions, creds models.CredentialSet, defaults *presets.Presets, pipeline *services.PipelineService, logger *utils.Logger) error {
	params, err := buildParams(opts, defaults)
	if err != nil {
		return err
	}

	in, err := os.Open(opts.in)
	if err != nil {
		return fmt.Errorf("打开输入文件失败: %w", err)
	}
	session := services.NewSessionService(logger)
	err = session.ImportCSV(in)
	in.Close()
	if err != nil {
		return err
	}
	table := session.Table()

	req := services.BatchRequest{
		Action:      models.Action(opts.action),
		Rows:        table.Rows,
		Columns:     table.Columns,
		Params:      params,
		Credentials: creds,
	}
	reporter := services.ProgressReporterFunc(func(processed, total int) {
		logger.Info("批处理进度", map[string]interface{}{"processed": processed, "total": total})
	})

	result, runErr := pipeline.Run(ctx, req, reporter)
	if result == nil {
		return runErr
	}

	out, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	writeErr := services.WriteCSV(out, &models.Table{Rows: result.Rows, Columns: result.Columns})
	if closeErr := out.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		return fmt.Errorf("写出结果失败: %w", writeErr)
	}

	logger.Info("结果已写出", map[string]interface{}{
		"out":       opts.out,
		"rows":      len(result.Rows),
		"processed": result.Processed,
		"total":     result.Total,
	})
	return runErr
}

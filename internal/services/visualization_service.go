// internal/services/visualization_service.go
package services

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
)

// ChartType 图表类型
type ChartType string

const (
	ChartBar   ChartType = "bar"
	ChartRadar ChartType = "radar"
)

// ColumnMean 单列平均值
type ColumnMean struct {
	Subject string  `json:"subject"`
	Value   float64 `json:"value"`
}

// VisualizationResult 图表数据
type VisualizationResult struct {
	ChartType ChartType    `json:"chartType"`
	Data      []ColumnMean `json:"data"`
	RowCount  int          `json:"rowCount"`
}

// VisualizationService 把选中列聚合为平均值
type VisualizationService struct{}

// NewVisualizationService 创建可视化服务
func NewVisualizationService() *VisualizationService {
	return &VisualizationService{}
}

// Aggregate 计算每个选中列的平均值。非数字和空值按0计算，空表的平均值为0
func (s *VisualizationService) Aggregate(rows []models.Row, columns []string, chart ChartType) (*VisualizationResult, error) {
	switch chart {
	case "":
		chart = ChartRadar
	case ChartBar, ChartRadar:
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("不支持的图表类型: %q", chart), nil)
	}
	if len(columns) == 0 {
		return nil, apperrors.NewValidationError("至少选择一列", nil)
	}

	divisor := float64(len(rows))
	if divisor == 0 {
		divisor = 1
	}

	data := make([]ColumnMean, len(columns))
	for i, column := range columns {
		var sum float64
		for _, row := range rows {
			sum += ParseLeadingFloat(row.Get(column))
		}
		data[i] = ColumnMean{Subject: column, Value: sum / divisor}
	}

	return &VisualizationResult{ChartType: chart, Data: data, RowCount: len(rows)}, nil
}

// ParseLeadingFloat 解析字符串开头的十进制数（"5점" -> 5），无法解析时返回0
func ParseLeadingFloat(s string) float64 {
	s = strings.TrimLeft(s, " \t\r\n")

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	// 指数部分必须完整才计入
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		expDigits := exp
		for expDigits < len(s) && s[expDigits] >= '0' && s[expDigits] <= '9' {
			expDigits++
		}
		if expDigits > exp {
			end = expDigits
		}
	}

	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return v
}

// internal/models/column.go
package models

import "fmt"

// ColumnType 列类型
type ColumnType string

const (
	ColumnTypeText     ColumnType = "text"
	ColumnTypeDropdown ColumnType = "dropdown"
)

const (
	DefaultScoreRange  = 7
	DefaultColumnWidth = 200
)

// ColumnDescriptor 列元数据
type ColumnDescriptor struct {
	Name       string     `json:"name"`
	Width      int        `json:"width"`
	Type       ColumnType `json:"type"`
	ScoreRange int        `json:"scoreRange,omitempty"`
}

// TextColumn 创建文本列
func TextColumn(name string, width int) ColumnDescriptor {
	return ColumnDescriptor{Name: name, Width: width, Type: ColumnTypeText}
}

// DropdownColumn 创建评分下拉列，scoreRange<=0 时使用默认值
func DropdownColumn(name string, width, scoreRange int) ColumnDescriptor {
	if scoreRange <= 0 {
		scoreRange = DefaultScoreRange
	}
	return ColumnDescriptor{Name: name, Width: width, Type: ColumnTypeDropdown, ScoreRange: scoreRange}
}

// Validate 检查列描述是否合法
func (c ColumnDescriptor) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("列名不能为空")
	}
	if c.Width <= 0 {
		return fmt.Errorf("列 %q 的宽度必须为正数", c.Name)
	}
	switch c.Type {
	case ColumnTypeText:
	case ColumnTypeDropdown:
		if c.ScoreRange <= 0 {
			return fmt.Errorf("下拉列 %q 的分数范围必须为正数", c.Name)
		}
	default:
		return fmt.Errorf("列 %q 的类型无效: %q", c.Name, c.Type)
	}
	return nil
}

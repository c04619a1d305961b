// internal/models/table.go
package models

import (
	"fmt"
	"sort"
	"strconv"
)

// Table 行列表 + 列描述列表。所有行的键集合与列名集合一致
type Table struct {
	Rows    []Row              `json:"rows"`
	Columns []ColumnDescriptor `json:"columns"`
}

// NewTable 创建空表
func NewTable() *Table {
	return &Table{Rows: []Row{}, Columns: []ColumnDescriptor{}}
}

// Clone 深拷贝
func (t *Table) Clone() *Table {
	columns := make([]ColumnDescriptor, len(t.Columns))
	copy(columns, t.Columns)
	return &Table{Rows: CloneRows(t.Rows), Columns: columns}
}

// Names 按顺序返回列名
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex 返回列位置，不存在时返回-1
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// HasColumn 判断列是否存在
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Column 获取列描述
func (t *Table) Column(name string) (ColumnDescriptor, bool) {
	if i := t.ColumnIndex(name); i >= 0 {
		return t.Columns[i], true
	}
	return ColumnDescriptor{}, false
}

// InsertColumn 在 index 处插入列（越界时追加到末尾），已存在则不做任何事并返回 false
func (t *Table) InsertColumn(column ColumnDescriptor, index int) bool {
	if t.HasColumn(column.Name) {
		return false
	}
	if index < 0 || index > len(t.Columns) {
		index = len(t.Columns)
	}

	t.Columns = append(t.Columns, ColumnDescriptor{})
	copy(t.Columns[index+1:], t.Columns[index:])
	t.Columns[index] = column

	for _, row := range t.Rows {
		if !row.Has(column.Name) {
			row[column.Name] = ""
		}
	}
	return true
}

// AppendColumn 在末尾追加列
func (t *Table) AppendColumn(column ColumnDescriptor) bool {
	return t.InsertColumn(column, len(t.Columns))
}

// RemoveColumn 删除列及所有行中的对应值
func (t *Table) RemoveColumn(name string) bool {
	i := t.ColumnIndex(name)
	if i < 0 {
		return false
	}
	t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
	for _, row := range t.Rows {
		delete(row, name)
	}
	return true
}

// Normalize 补齐缺失的单元格，并为未知的键追加文本列（按名称排序）
func (t *Table) Normalize() {
	known := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		known[c.Name] = true
	}

	var extra []string
	for _, row := range t.Rows {
		for key := range row {
			if !known[key] {
				known[key] = true
				extra = append(extra, key)
			}
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		t.Columns = append(t.Columns, TextColumn(name, DefaultColumnWidth))
	}

	for i, row := range t.Rows {
		if row == nil {
			row = Row{}
			t.Rows[i] = row
		}
		for _, c := range t.Columns {
			if !row.Has(c.Name) {
				row[c.Name] = ""
			}
		}
	}
}

// Validate 检查表结构不变式
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Name] {
			return fmt.Errorf("列名重复: %q", c.Name)
		}
		seen[c.Name] = true
	}

	for i, row := range t.Rows {
		if len(row) != len(seen) {
			return fmt.Errorf("第 %d 行的列数 %d 与表头 %d 不一致", i, len(row), len(seen))
		}
		for key := range row {
			if !seen[key] {
				return fmt.Errorf("第 %d 行包含未知列 %q", i, key)
			}
		}
	}
	return nil
}

// ValidateCellValue 检查单元格值是否符合列类型
func (c ColumnDescriptor) ValidateCellValue(value string) error {
	if c.Type != ColumnTypeDropdown || value == "" {
		return nil
	}
	if value == SentinelError || value == SentinelNotAvailable {
		return nil
	}
	score, err := strconv.Atoi(value)
	if err != nil || score < 1 || score > c.ScoreRange {
		return fmt.Errorf("列 %q 只接受 1-%d 的分数，当前值: %q", c.Name, c.ScoreRange, value)
	}
	return nil
}

// internal/models/row.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// 保留列名，带有流水线语义
const (
	ColumnIsAugmented  = "is_augmented"
	ColumnAssistant    = "assistant"
	ColumnLLMEval      = "LLM_Eval"
	ColumnLLMRationale = "LLM_Eval 근거"
	ColumnHumanEval    = "Human_Eval"
)

// 哨兵值
const (
	SentinelError        = "Error"
	SentinelNotAvailable = "N/A"
	AugmentedYes         = "Yes"
	AugmentedNo          = "No"
)

// Row 表格中的一行，以列名为键。缺失的键表示未定义
type Row map[string]string

// Get 返回列值，缺失时返回空字符串
func (r Row) Get(column string) string {
	if r == nil {
		return ""
	}
	return r[column]
}

// Has 判断列是否存在
func (r Row) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// Clone 返回浅拷贝
func (r Row) Clone() Row {
	out := make(Row, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// With 返回设置了指定列的新行，原行不变
func (r Row) With(column, value string) Row {
	out := r.Clone()
	out[column] = value
	return out
}

// UnmarshalJSON 接受任意标量值并转为文本，null 视为缺失
func (r *Row) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	row := make(Row, len(raw))
	for key, value := range raw {
		text, present, err := scalarToText(value)
		if err != nil {
			return fmt.Errorf("列 %q 的值无效: %w", key, err)
		}
		if present {
			row[key] = text
		}
	}
	*r = row
	return nil
}

func scalarToText(value json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false, nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return "", false, err
		}
		return strconv.FormatBool(b), true, nil
	case '{', '[':
		return "", false, fmt.Errorf("不支持嵌套值")
	default:
		var n json.Number
		if err := json.Unmarshal(trimmed, &n); err != nil {
			return "", false, err
		}
		return n.String(), true, nil
	}
}

// CloneRows 深拷贝行列表
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}

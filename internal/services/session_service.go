// internal/services/session_service.go
package services

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SessionService 单用户会话状态：当前表格、凭据和批处理占用标记。
// 批处理进行中时所有修改表格的操作返回冲突错误。
type SessionService struct {
	table       *models.Table
	credentials models.CredentialSet
	busy        bool
	logger      *utils.Logger
	mu          sync.RWMutex
}

// NewSessionService 创建空会话
func NewSessionService(logger *utils.Logger) *SessionService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &SessionService{table: models.NewTable(), logger: logger}
}

// Table 返回当前表格的副本
func (s *SessionService) Table() *models.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone()
}

// Busy 是否有批处理正在进行
func (s *SessionService) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// lockForWrite 获取写锁，批处理进行中时返回冲突错误
func (s *SessionService) lockForWrite() error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return apperrors.NewConflictError("批处理进行中，表格暂时不能修改", nil)
	}
	return nil
}

// ImportCSV 解析CSV并整体替换当前表格。第一条记录为表头，
// 追加 LLM_Eval 和 Human_Eval 两个评分列（已存在时跳过）。
// 解析失败或内容为空时表格被重置为空表。
func (s *SessionService) ImportCSV(r io.Reader) error {
	table, err := parseCSV(r)

	if lockErr := s.lockForWrite(); lockErr != nil {
		return lockErr
	}
	defer s.mu.Unlock()

	if err != nil {
		s.table = models.NewTable()
		s.logger.Warn("CSV导入失败，表格已重置", map[string]interface{}{"error": err})
		return err
	}

	s.table = table
	s.logger.Info("CSV导入完成", map[string]interface{}{
		"rows":    len(table.Rows),
		"columns": len(table.Columns),
	})
	return nil
}

func parseCSV(r io.Reader) (*models.Table, error) {
	// BOMOverride 去掉 UTF-8 BOM，无 BOM 时按 UTF-8 原样读取
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	reader := csv.NewReader(bufio.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewValidationError("Invalid CSV format", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewValidationError("Invalid CSV format: empty file", nil)
	}

	headers := records[0]
	table := models.NewTable()
	for i, header := range headers {
		name := strings.TrimSpace(header)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		if table.HasColumn(name) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("CSV 表头包含重复列名: %q", name), nil)
		}
		headers[i] = name
		table.AppendColumn(models.TextColumn(name, models.DefaultColumnWidth))
	}
	for _, name := range []string{models.ColumnLLMEval, models.ColumnHumanEval} {
		if i := table.ColumnIndex(name); i >= 0 {
			table.Columns[i] = models.DropdownColumn(name, models.DefaultColumnWidth, models.DefaultScoreRange)
			continue
		}
		table.AppendColumn(models.DropdownColumn(name, models.DefaultColumnWidth, models.DefaultScoreRange))
	}

	for _, record := range records[1:] {
		row := make(models.Row, len(table.Columns))
		for _, c := range table.Columns {
			row[c.Name] = ""
		}
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			}
		}
		table.Rows = append(table.Rows, row)
	}

	if err := table.Validate(); err != nil {
		return nil, apperrors.NewValidationError("Invalid CSV format", err)
	}
	return table, nil
}

// ExportCSV 以 UTF-8 BOM 开头、CRLF 换行写出所有列和行
func (s *SessionService) ExportCSV(w io.Writer) error {
	table := s.Table()
	return WriteCSV(w, table)
}

// WriteCSV 把表格序列化为CSV
func WriteCSV(w io.Writer, table *models.Table) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	writer.UseCRLF = true

	names := table.Names()
	if err := writer.Write(names); err != nil {
		return err
	}
	record := make([]string, len(names))
	for _, row := range table.Rows {
		for i, name := range names {
			record[i] = row.Get(name)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// EditCell 修改单元格，评分列只接受合法分数或哨兵值
func (s *SessionService) EditCell(rowIndex int, column, value string) error {
	if err := s.lockForWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if rowIndex < 0 || rowIndex >= len(s.table.Rows) {
		return apperrors.NewNotFoundError(fmt.Sprintf("行 %d 不存在", rowIndex), nil)
	}
	col, ok := s.table.Column(column)
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("列 %q 不存在", column), nil)
	}
	if err := col.ValidateCellValue(value); err != nil {
		return apperrors.NewValidationError(err.Error(), err)
	}

	s.table.Rows[rowIndex][column] = value
	return nil
}

// AddColumn 在末尾添加列，所有行填入空字符串
func (s *SessionService) AddColumn(name string, colType models.ColumnType, scoreRange int) (models.ColumnDescriptor, error) {
	name = strings.TrimSpace(name)

	var col models.ColumnDescriptor
	switch colType {
	case models.ColumnTypeDropdown:
		col = models.DropdownColumn(name, models.DefaultColumnWidth, scoreRange)
	case models.ColumnTypeText, "":
		col = models.TextColumn(name, models.DefaultColumnWidth)
	default:
		return col, apperrors.NewValidationError(fmt.Sprintf("未知的列类型: %q", colType), nil)
	}
	if err := col.Validate(); err != nil {
		return col, apperrors.NewValidationError(err.Error(), err)
	}

	if err := s.lockForWrite(); err != nil {
		return col, err
	}
	defer s.mu.Unlock()

	if !s.table.AppendColumn(col) {
		return col, apperrors.NewConflictError(fmt.Sprintf("列 %q 已存在", name), nil)
	}
	return col, nil
}

// DeleteColumn 删除列及其所有值
func (s *SessionService) DeleteColumn(name string) error {
	if err := s.lockForWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if !s.table.RemoveColumn(name) {
		return apperrors.NewNotFoundError(fmt.Sprintf("列 %q 不存在", name), nil)
	}
	return nil
}

// ResizeColumn 修改列宽
func (s *SessionService) ResizeColumn(name string, width int) error {
	if width <= 0 {
		return apperrors.NewValidationError("列宽必须为正数", nil)
	}
	if err := s.lockForWrite(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	i := s.table.ColumnIndex(name)
	if i < 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("列 %q 不存在", name), nil)
	}
	s.table.Columns[i].Width = width
	return nil
}

// SetCredentials 替换会话凭据，只保存在内存中
func (s *SessionService) SetCredentials(creds models.CredentialSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = creds
}

// Credentials 返回会话凭据
func (s *SessionService) Credentials() models.CredentialSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials
}

// BeginBatch 标记会话被批处理占用并返回当前表格快照
func (s *SessionService) BeginBatch() (*models.Table, error) {
	if err := s.lockForWrite(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	s.busy = true
	return s.table.Clone(), nil
}

// EndBatch 释放占用；result 非空时用其替换表格
func (s *SessionService) EndBatch(result *BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result != nil {
		s.table = &models.Table{Rows: result.Rows, Columns: result.Columns}
	}
	s.busy = false
}

package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
	"github.com/Corphon/EvalSheet/internal/models"
	"github.com/Corphon/EvalSheet/internal/utils"
)

func newTestSession(t *testing.T, csvText string) *SessionService {
	t.Helper()
	s := NewSessionService(utils.NewNopLogger())
	require.NoError(t, s.ImportCSV(strings.NewReader(csvText)))
	return s
}

func TestImportCSVAppendsEvalColumns(t *testing.T) {
	s := newTestSession(t, "name,text\na,hello\nb,world\n")
	table := s.Table()

	assert.Equal(t, []string{"name", "text", "LLM_Eval", "Human_Eval"}, table.Names())
	for _, name := range []string{models.ColumnLLMEval, models.ColumnHumanEval} {
		col, ok := table.Column(name)
		require.True(t, ok)
		assert.Equal(t, models.ColumnTypeDropdown, col.Type)
		assert.Equal(t, 7, col.ScoreRange)
	}
	for _, col := range table.Columns {
		assert.Equal(t, 200, col.Width)
	}

	require.Len(t, table.Rows, 2)
	assert.Equal(t, models.Row{"name": "a", "text": "hello", "LLM_Eval": "", "Human_Eval": ""}, table.Rows[0])
}

func TestImportCSVStripsBOMAndPadsShortRecords(t *testing.T) {
	s := newTestSession(t, "\uFEFFid,question,answer\r\n1,\"multi\nline\"\r\n2,q,a,extra\r\n")
	table := s.Table()

	assert.Equal(t, "id", table.Columns[0].Name)
	assert.Equal(t, "multi\nline", table.Rows[0]["question"])
	assert.Equal(t, "", table.Rows[0]["answer"])
	assert.Equal(t, "a", table.Rows[1]["answer"])
	require.NoError(t, table.Validate())
}

func TestImportCSVKeepsExistingEvalColumns(t *testing.T) {
	s := newTestSession(t, "q,LLM_Eval\nx,5\n")
	assert.Equal(t, []string{"q", "LLM_Eval", "Human_Eval"}, s.Table().Names())
	assert.Equal(t, "5", s.Table().Rows[0][models.ColumnLLMEval])
}

func TestImportEmptyCSVResetsTable(t *testing.T) {
	s := newTestSession(t, "a\n1\n")

	err := s.ImportCSV(strings.NewReader(""))
	assert.True(t, apperrors.IsValidationError(err))
	assert.Empty(t, s.Table().Columns)
	assert.Empty(t, s.Table().Rows)
}

func TestExportCSVWritesBOMAndCRLF(t *testing.T) {
	s := newTestSession(t, "name,text\na,\"x,y\"\n")

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(&buf))

	assert.Equal(t, "\xEF\xBB\xBFname,text,LLM_Eval,Human_Eval\r\na,\"x,y\",,\r\n", buf.String())

	// 导出后再导入得到同样的表格
	again := NewSessionService(utils.NewNopLogger())
	require.NoError(t, again.ImportCSV(&buf))
	assert.Equal(t, s.Table(), again.Table())
}

func TestEditCell(t *testing.T) {
	s := newTestSession(t, "q\nx\n")

	require.NoError(t, s.EditCell(0, "q", "changed"))
	require.NoError(t, s.EditCell(0, models.ColumnHumanEval, "6"))
	assert.Equal(t, "6", s.Table().Rows[0][models.ColumnHumanEval])

	assert.True(t, apperrors.IsValidationError(s.EditCell(0, models.ColumnHumanEval, "9")))
	assert.True(t, apperrors.IsNotFoundError(s.EditCell(3, "q", "x")))
	assert.True(t, apperrors.IsNotFoundError(s.EditCell(0, "ghost", "x")))
}

func TestColumnManagement(t *testing.T) {
	s := newTestSession(t, "q\nx\n")

	col, err := s.AddColumn("score", models.ColumnTypeDropdown, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, col.ScoreRange)
	assert.Equal(t, "", s.Table().Rows[0]["score"])

	_, err = s.AddColumn("score", models.ColumnTypeText, 0)
	assert.True(t, apperrors.IsConflictError(err))
	_, err = s.AddColumn(" ", models.ColumnTypeText, 0)
	assert.True(t, apperrors.IsValidationError(err))

	require.NoError(t, s.ResizeColumn("score", 321))
	c, _ := s.Table().Column("score")
	assert.Equal(t, 321, c.Width)
	assert.True(t, apperrors.IsValidationError(s.ResizeColumn("score", 0)))

	require.NoError(t, s.DeleteColumn("score"))
	assert.False(t, s.Table().Rows[0].Has("score"))
	assert.True(t, apperrors.IsNotFoundError(s.DeleteColumn("score")))
}

func TestBusySessionRejectsMutations(t *testing.T) {
	s := newTestSession(t, "q\nx\n")

	snapshot, err := s.BeginBatch()
	require.NoError(t, err)
	assert.Len(t, snapshot.Rows, 1)
	assert.True(t, s.Busy())

	assert.True(t, apperrors.IsConflictError(s.EditCell(0, "q", "y")))
	assert.True(t, apperrors.IsConflictError(s.DeleteColumn("q")))
	assert.True(t, apperrors.IsConflictError(s.ImportCSV(strings.NewReader("a\n1\n"))))
	_, err = s.BeginBatch()
	assert.True(t, apperrors.IsConflictError(err))

	// 凭据可以在批处理期间修改
	s.SetCredentials(models.CredentialSet{OpenAIAPIKey: "k"})
	assert.Equal(t, "k", s.Credentials().OpenAIAPIKey)

	s.EndBatch(&BatchResult{
		Rows:    []models.Row{{"q": "z"}},
		Columns: []models.ColumnDescriptor{models.TextColumn("q", 200)},
	})
	assert.False(t, s.Busy())
	assert.Equal(t, "z", s.Table().Rows[0]["q"])
}

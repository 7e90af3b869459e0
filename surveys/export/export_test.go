package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testReport() Report {
	notes := "follow up with facilities"
	return Report{
		SurveyName: "Office 2026",
		Opinions: []Row{
			{
				Id: 7, Title: "More parking", Content: "The lot is full by 9am", AdminNotes: &notes,
				Importance: 2, Urgency: 2, ExpectedImpact: 1, SupporterPoints: 2, PriorityScore: 12,
				SupporterCount: 5, DisclosedPii: map[string]string{"Name": "Alice", "Team": "Ops"},
			},
			{
				Id: 3, Title: "Quiet room", Content: "Café noise", PriorityScore: 2,
				DisclosedPii: map[string]string{"Dept": "Sales"},
			},
		},
	}
}

func TestPiiColumns(t *testing.T) {
	assert.Equal(t, []string{"Dept", "Name", "Team"}, PiiColumns(testReport().Opinions))
	assert.Empty(t, PiiColumns(nil))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "Survey Opinions Report - a_b_c.xlsx", Filename("a/b:c", "xlsx"))
	assert.Equal(t, "Survey Opinions Report - Survey.pdf", Filename("   ", "pdf"))

	long := strings.Repeat("x", 100)
	assert.Equal(t, "Survey Opinions Report - "+strings.Repeat("x", 80)+".pdf", Filename(long, "pdf"))
}

func TestBuildXlsx(t *testing.T) {
	data, err := BuildXlsx(testReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{sheetName}, f.GetSheetList())

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, "Survey: Office 2026", rows[0][0])
	assert.Equal(t, "ID", rows[2][0])
	assert.Equal(t, []string{"Dept", "Name", "Team"}, rows[2][len(xlsxHeader):])

	first := rows[3]
	assert.Equal(t, "7", first[0])
	assert.Equal(t, "More parking", first[1])
	assert.Equal(t, "follow up with facilities", first[3])
	assert.Equal(t, "12", first[4])
	assert.Equal(t, "5★", first[5])
	assert.Equal(t, []string{"High", "High", "Medium", "High"}, first[6:10])
	assert.Equal(t, "5", first[10])
	assert.Equal(t, []string{"", "Alice", "Ops"}, first[len(xlsxHeader):])

	second := rows[4]
	assert.Equal(t, "3", second[0])
	assert.Equal(t, "1★", second[5])
	assert.Equal(t, []string{"Low", "Low", "Low", "Low"}, second[6:10])
	assert.Equal(t, "Sales", second[len(xlsxHeader)])

	panes, err := f.GetPanes(sheetName)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 3, panes.YSplit)
}

func TestBuildXlsxWithoutName(t *testing.T) {
	data, err := BuildXlsx(Report{})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, xlsxHeader, rows[0])
}

func TestBuildPdf(t *testing.T) {
	data, err := BuildPdf(testReport())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	empty, err := BuildPdf(Report{})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(empty, []byte("%PDF-")))
}

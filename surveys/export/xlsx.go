package export

import (
	"bytes"
	"fmt"
	"survey_engine/surveys/scoring"

	"github.com/xuri/excelize/v2"
)

const (
	XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	sheetName       = "Opinions"
)

var xlsxHeader = []string{
	"ID",
	"Title",
	"Content",
	"Administrator Comments & Notes",
	"Priority Score (0-14)",
	"Rating (1-5★)",
	"Imp",
	"Urg",
	"Impact",
	"Supporters (pts)",
	"Supporters (count)",
}

var xlsxWidths = []float64{8, 40, 60, 40, 12, 10, 6, 6, 8, 10, 12}

const piiColumnWidth = 20

func xlsxValues(row Row, piiColumns []string) []interface{} {
	values := []interface{}{
		row.Id,
		row.Title,
		row.Content,
		row.notes(),
		row.PriorityScore,
		scoring.StarDisplay(row.PriorityScore),
		scoring.ComponentLabel(row.Importance),
		scoring.ComponentLabel(row.Urgency),
		scoring.ComponentLabel(row.ExpectedImpact),
		scoring.ComponentLabel(row.SupporterPoints),
		row.SupporterCount,
	}
	for _, col := range piiColumns {
		values = append(values, row.DisclosedPii[col])
	}
	return values
}

// BuildXlsx renders the report as a single sheet workbook with a frozen,
// styled header row.
func BuildXlsx(report Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	headerRow := 1
	if report.SurveyName != "" {
		if err := f.SetCellValue(sheetName, "A1", "Survey: "+report.SurveyName); err != nil {
			return nil, fmt.Errorf("failed to set survey name: %w", err)
		}
		headerRow = 3
	}

	piiColumns := PiiColumns(report.Opinions)
	header := append(append([]string{}, xlsxHeader...), piiColumns...)

	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		width := float64(piiColumnWidth)
		if col < len(xlsxWidths) {
			width = xlsxWidths[col]
		}
		if err := f.SetColWidth(sheetName, name, name, width); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	first, _ := excelize.CoordinatesToCellName(1, headerRow)
	last, _ := excelize.CoordinatesToCellName(len(header), headerRow)
	if err := f.SetCellStyle(sheetName, first, last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, row := range report.Opinions {
		cell, err := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		values := xlsxValues(row, piiColumns)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("failed to write opinion %d: %w", row.Id, err)
		}
	}

	topLeft, _ := excelize.CoordinatesToCellName(1, headerRow+1)
	err = f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      headerRow,
		TopLeftCell: topLeft,
		ActivePane:  "bottomLeft",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buffer bytes.Buffer
	if _, err := f.WriteTo(&buffer); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	return buffer.Bytes(), nil
}

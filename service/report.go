package services

import (
	"fmt"
	"strings"

	"github.com/Itish41/IAOMS/models"
	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{
	"Tracking ID", "Title", "Type", "Priority", "Status", "Current Step",
	"Progress (%)", "Recipients", "Submitted At", "Escalation Level",
}

// BuildDocumentReport renders docs as an XLSX workbook.
func BuildDocumentReport(docs []models.Document) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Documents"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, h := range exportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for i, doc := range docs {
		row := i + 2
		values := []interface{}{
			doc.ID,
			doc.Title,
			string(doc.Type),
			string(doc.Priority),
			string(doc.Status),
			doc.Workflow.CurrentStep,
			doc.Workflow.Progress,
			strings.Join(doc.Recipients, ", "),
			doc.SubmittedAt.Format("2006-01-02 15:04"),
			doc.Workflow.EscalationLevel,
		}
		for j, v := range values {
			col, _ := excelize.ColumnNumberToName(j + 1)
			f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), v)
		}
	}

	colWidths := []float64{38, 30, 10, 10, 18, 24, 12, 36, 18, 10}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
	return f, nil
}


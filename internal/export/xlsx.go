package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rollcall/internal/models"
	"rollcall/internal/remote"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Unsynced"

var baseColumns = []string{
	"Task ID",
	models.FieldStudentID,
	models.FieldName,
	models.FieldEmail,
	models.FieldStatus,
	models.FieldTimestamp,
	models.FieldCustomDate,
}

// WriteUnsynced saves tasks that are still waiting for delivery into an XLSX
// file under dir and returns its path.
func WriteUnsynced(dir string, tasks []models.SyncTask, loc *time.Location, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	columns := columnsFor(tasks)
	for i, name := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, name)
	}
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(columns), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, style)

	for r, task := range tasks {
		values := remote.FormValues(task, loc)
		row := r + 2
		for c, name := range columns {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			var v string
			if c == 0 {
				v = task.ID
			} else {
				v, _ = values.Get(name)
			}
			_ = f.SetCellStr(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 28)
	_ = f.DeleteSheet("Sheet1")

	path := filepath.Join(dir, fmt.Sprintf("unsynced_%s.xlsx", now.Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

// columnsFor returns the fixed columns followed by any extra data keys in
// first-seen order.
func columnsFor(tasks []models.SyncTask) []string {
	columns := append([]string(nil), baseColumns...)
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	for _, task := range tasks {
		for _, key := range task.Data.Keys() {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	return columns
}

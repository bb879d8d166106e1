package export

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/ct-filing/internal/models"
)

const (
	minColWidth = 10
	maxColWidth = 60
)

// ApplyDefaultExcelFormatting: жирная шапка, автофильтр по первой строке
// и примерная автоширина всех заполненных колонок.
func ApplyDefaultExcelFormatting(f *excelize.File, sheet string) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	if cols == 0 {
		return nil
	}
	last := columnName(cols)

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", style); err != nil {
		return err
	}
	if err := f.AutoFilter(sheet, "A1:"+last+"1", nil); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	widths := make([]float64, cols)
	for i := range widths {
		widths[i] = minColWidth
	}
	for rIdx, row := range rows {
		for cIdx, v := range row {
			w := float64(visualLen(v)) * 1.1
			if rIdx == 0 {
				w += 1.5 // стрелка автофильтра
			}
			widths[cIdx] = max(widths[cIdx], min(w, maxColWidth))
		}
	}
	for i, w := range widths {
		col := columnName(i + 1)
		if err := f.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}
	return nil
}

// PeriodRegisterFilename: имя файла реестра периодов.
func PeriodRegisterFilename(ctTypeName string, customerID int64) string {
	return sanitizeFileName(fmt.Sprintf("Periods - %s - customer %d.xlsx", cleanName(ctTypeName), customerID))
}

// WorkflowFilename: имя файла выгрузки поданного workflow.
func WorkflowFilename(ctTypeName string, p models.FilingPeriod) string {
	return sanitizeFileName(fmt.Sprintf("%s - customer %d - %s to %s.xlsx",
		cleanName(ctTypeName), p.CustomerID, p.PeriodFrom, p.PeriodTo))
}

// columnName: 1 → A, 27 → AA.
func columnName(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

func cell(col, row int) string {
	return fmt.Sprintf("%s%d", columnName(col), row)
}

// visualLen считает символы, таб: за четыре.
func visualLen(s string) int {
	return utf8.RuneCountInString(s) + 3*strings.Count(s, "\t")
}

var invalidFileRe = regexp.MustCompile(`[\\/:*?"<>|]+`)

func sanitizeFileName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return invalidFileRe.ReplaceAllString(s, "_")
}

func cleanName(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "-"
	}
	return s
}

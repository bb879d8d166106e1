// Package export собирает xlsx-выгрузки реестра периодов и поданного workflow.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/ct-filing/internal/filing"
	"github.com/Spok95/ct-filing/internal/models"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type SheetSpec struct {
	Title  string
	Header []string
	Rows   [][]any
}

// NewWorkbook создаёт книгу с листами в заданном порядке; первый лист заменяет стандартный Sheet1.
func NewWorkbook(sheets []SheetSpec) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook needs at least one sheet")
	}
	f := excelize.NewFile()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Title); err != nil {
				_ = f.Close()
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.Title); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("new sheet %q: %w", s.Title, err)
		}
		if err := writeSheet(f, s); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, s SheetSpec) error {
	header := make([]any, len(s.Header))
	for i, h := range s.Header {
		header[i] = h
	}
	if err := f.SetSheetRow(s.Title, "A1", &header); err != nil {
		return fmt.Errorf("%s header: %w", s.Title, err)
	}
	for r, row := range s.Rows {
		if err := f.SetSheetRow(s.Title, cell(1, r+2), &row); err != nil {
			return fmt.Errorf("%s row %d: %w", s.Title, r+2, err)
		}
	}
	return ApplyDefaultExcelFormatting(f, s.Title)
}

func toBytes(f *excelize.File) ([]byte, error) {
	defer func() { _ = f.Close() }()
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WorkbookExporter: реализация filing.Exporter на excelize.
type WorkbookExporter struct {
	Location *time.Location
}

func NewWorkbookExporter(loc *time.Location) *WorkbookExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &WorkbookExporter{Location: loc}
}

func (e *WorkbookExporter) ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(e.Location).Format("2006-01-02 15:04")
}

var periodHeader = []string{"ID", "Period from", "Period to", "Due date", "Status", "Created", "Updated"}

func (e *WorkbookExporter) periodRow(p models.FilingPeriod) []any {
	return []any{p.ID, p.PeriodFrom.String(), p.PeriodTo.String(), p.DueDate.String(), string(p.Status), e.ts(p.CreatedAt), e.ts(p.UpdatedAt)}
}

// PeriodRegister: реестр периодов клиента по одному типу.
func (e *WorkbookExporter) PeriodRegister(ctx context.Context, ct models.CtType, periods []models.FilingPeriod) (filing.Artifact, error) {
	rows := make([][]any, 0, len(periods))
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return filing.Artifact{}, err
		}
		rows = append(rows, e.periodRow(p))
	}
	f, err := NewWorkbook([]SheetSpec{{Title: "Periods", Header: periodHeader, Rows: rows}})
	if err != nil {
		return filing.Artifact{}, err
	}
	body, err := toBytes(f)
	if err != nil {
		return filing.Artifact{}, fmt.Errorf("period register: %w", err)
	}
	var customerID int64
	if len(periods) > 0 {
		customerID = periods[0].CustomerID
	}
	return filing.Artifact{Filename: PeriodRegisterFilename(ct.Name, customerID), ContentType: ContentTypeXLSX, Body: body}, nil
}

// Export выгружает поданный workflow (сводка периода, шаги и плоские данные шагов).
func (e *WorkbookExporter) Export(ctx context.Context, payload filing.ExportPayload) (filing.Artifact, error) {
	p := payload.Period
	summary := [][]any{
		{"CT type", payload.CtType.Name},
		{"Customer", p.CustomerID},
		{"Period from", p.PeriodFrom.String()},
		{"Period to", p.PeriodTo.String()},
		{"Due date", p.DueDate.String()},
		{"Status", string(p.Status)},
		{"Steps", len(payload.Steps)},
	}

	steps := make([][]any, 0, len(payload.Steps))
	var data [][]any
	for _, s := range payload.Steps {
		if err := ctx.Err(); err != nil {
			return filing.Artifact{}, err
		}
		steps = append(steps, []any{s.StepNumber, s.StepKey, string(s.Status), e.ts(s.UpdatedAt)})
		fields, err := flatten(s.Data)
		if err != nil {
			return filing.Artifact{}, fmt.Errorf("step %d data: %w", s.StepNumber, err)
		}
		for _, kv := range fields {
			data = append(data, []any{s.StepNumber, s.StepKey, kv[0], kv[1]})
		}
	}

	f, err := NewWorkbook([]SheetSpec{
		{Title: "Summary", Header: []string{"Field", "Value"}, Rows: summary},
		{Title: "Steps", Header: []string{"Step", "Key", "Status", "Updated"}, Rows: steps},
		{Title: "Data", Header: []string{"Step", "Key", "Field", "Value"}, Rows: data},
	})
	if err != nil {
		return filing.Artifact{}, err
	}
	body, err := toBytes(f)
	if err != nil {
		return filing.Artifact{}, fmt.Errorf("workflow export: %w", err)
	}
	return filing.Artifact{Filename: WorkflowFilename(payload.CtType.Name, p), ContentType: ContentTypeXLSX, Body: body}, nil
}

// flatten разворачивает JSON шага в пары путь/значение ("a.b[0]" → "1"), отсортированные по пути.
func flatten(raw json.RawMessage) ([][2]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var out [][2]string
	walk("", v, &out)
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

func walk(path string, v any, out *[][2]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			walk(p, child, out)
		}
	case []any:
		for i, child := range t {
			walk(path+"["+strconv.Itoa(i)+"]", child, out)
		}
	case nil:
		*out = append(*out, [2]string{path, ""})
	case string:
		*out = append(*out, [2]string{path, t})
	default:
		*out = append(*out, [2]string{path, fmt.Sprint(t)})
	}
}

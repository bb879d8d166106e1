package export

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/xuri/excelize/v2"

	"github.com/Spok95/ct-filing/internal/filing"
	"github.com/Spok95/ct-filing/internal/models"
)

func period(id int64, from, to, due string) models.FilingPeriod {
	f, _ := civil.ParseDate(from)
	t, _ := civil.ParseDate(to)
	d, _ := civil.ParseDate(due)
	return models.FilingPeriod{ID: id, CustomerID: 7, CtTypeID: 1, PeriodFrom: f, PeriodTo: t, DueDate: d,
		Status: models.PeriodNotStarted, CreatedAt: time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)}
}

func open(t *testing.T, a filing.Artifact) *excelize.File {
	t.Helper()
	if a.ContentType != ContentTypeXLSX {
		t.Fatalf("unexpected content type %q", a.ContentType)
	}
	f, err := excelize.OpenReader(bytes.NewReader(a.Body))
	if err != nil {
		t.Fatalf("открыть xlsx: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestPeriodRegister(t *testing.T) {
	e := NewWorkbookExporter(time.UTC)
	periods := []models.FilingPeriod{
		period(2, "2025-01-01", "2025-12-31", "2026-09-30"),
		period(1, "2024-01-01", "2024-12-31", "2025-09-30"),
	}
	a, err := e.PeriodRegister(context.Background(), models.CtType{ID: 1, Name: "CT Type 1"}, periods)
	if err != nil {
		t.Fatal(err)
	}
	if a.Filename != "Periods - CT Type 1 - customer 7.xlsx" {
		t.Fatalf("unexpected filename %q", a.Filename)
	}
	rows, err := open(t, a).GetRows("Periods")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("ожидали шапку и 2 строки, получили %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[1][1] != "2025-01-01" || rows[2][3] != "2025-09-30" || rows[1][5] != "2025-03-01 10:30" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestPeriodRegister_Empty(t *testing.T) {
	a, err := NewWorkbookExporter(nil).PeriodRegister(context.Background(), models.CtType{Name: "CT Type 2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	rows, _ := open(t, a).GetRows("Periods")
	if len(rows) != 1 {
		t.Fatalf("ожидали только шапку, получили %v", rows)
	}
}

func TestWorkflowExport(t *testing.T) {
	e := NewWorkbookExporter(time.UTC)
	payload := filing.ExportPayload{
		CtType: models.CtType{ID: 4, Name: "TYPE 4 WORKFLOW (AUDIT REPORT)"},
		Period: period(9, "2024-04-01", "2025-03-31", "2025-12-31"),
		Steps: []models.WorkflowStepRecord{
			{StepNumber: 1, StepKey: "upload", Status: models.StepSubmitted, Data: json.RawMessage(`{"file":"tb.csv"}`)},
			{StepNumber: 2, StepKey: "adjust", Status: models.StepSubmitted,
				Data: json.RawMessage(`{"totals":{"revenue":1200.5,"costs":300},"notes":["a","b"],"empty":null}`)},
		},
	}
	a, err := e.Export(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(a.Filename, "2024-04-01 to 2025-03-31.xlsx") {
		t.Fatalf("unexpected filename %q", a.Filename)
	}
	f := open(t, a)

	if sheets := f.GetSheetList(); strings.Join(sheets, ",") != "Summary,Steps,Data" {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	steps, _ := f.GetRows("Steps")
	if len(steps) != 3 || steps[2][1] != "adjust" || steps[2][2] != "submitted" {
		t.Fatalf("unexpected steps sheet %v", steps)
	}

	data, _ := f.GetRows("Data")
	got := map[string]string{}
	for _, r := range data[1:] {
		v := ""
		if len(r) > 3 {
			v = r[3]
		}
		got[r[2]] = v
	}
	want := map[string]string{"file": "tb.csv", "totals.revenue": "1200.5", "totals.costs": "300", "notes[0]": "a", "notes[1]": "b", "empty": ""}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("поле %s: ожидали %q, получили %q (все: %v)", k, v, got[k], got)
		}
	}
}

func TestFlatten_Invalid(t *testing.T) {
	if _, err := flatten(json.RawMessage(`{`)); err == nil {
		t.Fatal("ожидали ошибку на битом JSON")
	}
	out, err := flatten(nil)
	if err != nil || out != nil {
		t.Fatalf("пустые данные: %v, %v", out, err)
	}
}

func TestHelpers(t *testing.T) {
	cases := map[int]string{1: "A", 26: "Z", 27: "AA", 52: "AZ", 703: "AAA"}
	for n, want := range cases {
		if got := columnName(n); got != want {
			t.Fatalf("columnName(%d) = %q, want %q", n, got, want)
		}
	}
	if got := sanitizeFileName("  a/b:c   d.xlsx "); got != "a_b_c d.xlsx" {
		t.Fatalf("sanitizeFileName: %q", got)
	}
	if cleanName("  ") != "-" {
		t.Fatal("пустое имя должно заменяться на -")
	}
}

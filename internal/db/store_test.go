//go:build testutil
// +build testutil

package db_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"cloud.google.com/go/civil"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/db"
	"github.com/Spok95/ct-filing/internal/models"
	"github.com/Spok95/ct-filing/internal/testutil/testdb"
)

func d(s string) civil.Date {
	v, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return v
}

func mustPeriod(t *testing.T, st *db.Store, customerID, ctTypeID int64, from, to, due string) models.FilingPeriod {
	t.Helper()
	p, err := st.CreateFilingPeriod(context.Background(), models.FilingPeriod{
		CustomerID: customerID, CtTypeID: ctTypeID, PeriodFrom: d(from), PeriodTo: d(to), DueDate: d(due),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestStore(t *testing.T) {
	h := testdb.MustStart(t)
	st := db.NewStore(h.DB)

	t.Run("ct_types", func(t *testing.T) { testCtTypes(t, st) })
	t.Run("periods", func(t *testing.T) { testPeriods(t, st, h) })
	t.Run("update", func(t *testing.T) { testUpdatePeriod(t, st, h) })
	t.Run("conversions", func(t *testing.T) { testConversions(t, st, h) })
	t.Run("steps", func(t *testing.T) { testSteps(t, st, h) })
	t.Run("steps_parallel", func(t *testing.T) { testStepsParallel(t, st, h) })
	t.Run("cascade", func(t *testing.T) { testCascade(t, st, h) })
	t.Run("overdue", func(t *testing.T) { testOverdue(t, st, h) })
}

func testCtTypes(t *testing.T, st *db.Store) {
	ctx := context.Background()
	types, err := st.ListCtTypes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(types) != 4 || types[0].Name != "CT Type 1" || types[3].Name != "CT Type 4" {
		t.Fatalf("ожидали 4 сидированных типа, получили %+v", types)
	}
	if _, err := st.RenameCtType(ctx, 999, "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ожидали NotFoundError, получили %v", err)
	}
}

func testPeriods(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Periods Ltd", "01/04/2023")

	got, err := st.GetCustomer(ctx, c.ID)
	if err != nil || got.CtPeriodStart != "01/04/2023" {
		t.Fatalf("customer: %+v, %v", got, err)
	}

	a := mustPeriod(t, st, c.ID, 1, "2023-04-01", "2024-03-31", "2024-12-31")
	b := mustPeriod(t, st, c.ID, 1, "2024-04-01", "2025-03-31", "2025-12-31")

	list, err := st.ListFilingPeriods(ctx, c.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("ожидали сортировку по period_from DESC, получили %+v", list)
	}
	if list[1].PeriodFrom != d("2023-04-01") || list[1].DueDate != d("2024-12-31") || list[1].Status != models.PeriodNotStarted {
		t.Fatalf("даты не пережили round-trip: %+v", list[1])
	}
	latest, err := st.LatestFilingPeriod(ctx, c.ID, 1)
	if err != nil || latest.ID != b.ID {
		t.Fatalf("latest: %+v, %v", latest, err)
	}
	if _, err := st.LatestFilingPeriod(ctx, c.ID, 2); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ожидали NotFoundError, получили %v", err)
	}

	_, err = st.CreateFilingPeriod(ctx, models.FilingPeriod{CustomerID: c.ID, CtTypeID: 1,
		PeriodFrom: d("2024-10-01"), PeriodTo: d("2025-09-30"), DueDate: d("2026-06-30")})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("пересечение: ожидали ConflictError, получили %v", err)
	}
	_, err = st.CreateFilingPeriod(ctx, models.FilingPeriod{CustomerID: c.ID, CtTypeID: 1,
		PeriodFrom: d("2026-01-01"), PeriodTo: d("2025-01-01"), DueDate: d("2026-06-30")})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("даты: ожидали ValidationError, получили %v", err)
	}
	_, err = st.CreateFilingPeriod(ctx, models.FilingPeriod{CustomerID: 987654, CtTypeID: 1,
		PeriodFrom: d("2026-01-01"), PeriodTo: d("2026-12-31"), DueDate: d("2027-09-30")})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("неизвестный клиент: ожидали NotFoundError, получили %v", err)
	}

	if err := st.DeleteFilingPeriod(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetFilingPeriod(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ожидали NotFoundError, получили %v", err)
	}
	if err := st.DeleteFilingPeriod(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("повторное удаление: ожидали NotFoundError, получили %v", err)
	}
}

func testUpdatePeriod(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Update Ltd", "")
	p := mustPeriod(t, st, c.ID, 2, "2024-01-01", "2024-12-31", "2025-09-30")

	status := models.PeriodInProgress
	due := d("2025-10-31")
	got, err := st.UpdateFilingPeriod(ctx, p.ID, models.FilingPeriodPatch{Status: &status, DueDate: &due})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != status || got.DueDate != due || got.PeriodFrom != p.PeriodFrom || !got.UpdatedAt.After(p.UpdatedAt) {
		t.Fatalf("unexpected update %+v", got)
	}

	early := d("2023-12-31")
	if _, err := st.UpdateFilingPeriod(ctx, p.ID, models.FilingPeriodPatch{PeriodTo: &early}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("ожидали ValidationError, получили %v", err)
	}
	if _, err := st.UpdateFilingPeriod(ctx, 987654, models.FilingPeriodPatch{Status: &status}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ожидали NotFoundError, получили %v", err)
	}
	after, _ := st.GetFilingPeriod(ctx, p.ID)
	if after.PeriodTo != p.PeriodTo {
		t.Fatal("невалидный патч не должен менять период")
	}

	next := mustPeriod(t, st, c.ID, 2, "2025-01-01", "2025-12-31", "2026-09-30")
	into := d("2024-06-01")
	if _, err := st.UpdateFilingPeriod(ctx, next.ID, models.FilingPeriodPatch{PeriodFrom: &into}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("сдвиг в соседний период: ожидали ConflictError, получили %v", err)
	}
	after, _ = st.GetFilingPeriod(ctx, next.ID)
	if after.PeriodFrom != next.PeriodFrom {
		t.Fatal("отклонённый патч не должен менять период")
	}
}

func testConversions(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Conversions Ltd", "")
	p := mustPeriod(t, st, c.ID, 1, "2024-01-01", "2024-12-31", "2025-09-30")

	var ids []int64
	for i := 0; i < 3; i++ {
		a, err := st.CreateConversionAttempt(ctx, p.ID, 1, fmt.Sprintf("u-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if a.Status != models.ConversionDraft {
			t.Fatalf("новая попытка должна быть draft: %+v", a)
		}
		ids = append(ids, a.ID)
	}
	list, err := st.ListConversionAttempts(ctx, p.ID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Fatalf("ожидали свежие первыми, получили %+v", list)
	}

	upd, err := st.UpdateConversionAttemptStatus(ctx, ids[0], models.ConversionCompleted)
	if err != nil || upd.Status != models.ConversionCompleted {
		t.Fatalf("update: %+v, %v", upd, err)
	}

	if _, err := st.CreateConversionAttempt(ctx, 987654, 1, "u"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("неизвестный период: ожидали NotFoundError, получили %v", err)
	}
	if err := st.DeleteConversionAttempt(ctx, ids[1]); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteConversionAttempt(ctx, ids[1]); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ожидали NotFoundError, получили %v", err)
	}
	if _, err := st.GetConversionAttempt(ctx, ids[1]); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("ожидали NotFoundError, получили %v", err)
	}
}

func testSteps(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Steps Ltd", "")
	p := mustPeriod(t, st, c.ID, 4, "2024-01-01", "2024-12-31", "2025-09-30")

	rec := models.WorkflowStepRecord{CustomerID: c.ID, CtTypeID: 4, PeriodID: p.ID, StepNumber: 2, StepKey: "trial_balance",
		Data: json.RawMessage(`{"revenue": 100, "costs": 40}`), Status: models.StepDraft}
	first, err := st.UpsertWorkflowStep(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.UpsertWorkflowStep(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Fatalf("идентичный upsert не должен менять updated_at: %s vs %s", first.UpdatedAt, second.UpdatedAt)
	}
	var data map[string]int
	if err := json.Unmarshal(second.Data, &data); err != nil || data["revenue"] != 100 || data["costs"] != 40 {
		t.Fatalf("данные: %s, %v", second.Data, err)
	}

	first1, err := st.UpsertWorkflowStep(ctx, models.WorkflowStepRecord{CustomerID: c.ID, CtTypeID: 4, PeriodID: p.ID, StepNumber: 1, StepKey: "upload"})
	if err != nil || string(first1.Data) != "{}" || first1.Status != models.StepDraft {
		t.Fatalf("значения по умолчанию: %+v, %v", first1, err)
	}

	steps, err := st.ListWorkflowSteps(ctx, p.ID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].StepNumber != 1 || steps[1].StepNumber != 2 {
		t.Fatalf("ожидали шаги по возрастанию, получили %+v", steps)
	}

	rec.Status = models.StepSubmitted
	if _, err := st.UpsertWorkflowStep(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Status = models.StepSubmitted
	if _, err := st.UpsertWorkflowStep(ctx, rec); err != nil {
		t.Fatalf("пересохранение submitted разрешено: %v", err)
	}
	rec.Status = models.StepDraft
	if _, err := st.UpsertWorkflowStep(ctx, rec); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("submitted → draft: ожидали ConflictError, получили %v", err)
	}

	rec.StepNumber = 0
	if _, err := st.UpsertWorkflowStep(ctx, rec); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("шаг 0: ожидали ValidationError, получили %v", err)
	}
	bad := models.WorkflowStepRecord{CustomerID: c.ID, CtTypeID: 4, PeriodID: 987654, StepNumber: 1, StepKey: "x"}
	if _, err := st.UpsertWorkflowStep(ctx, bad); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("неизвестный период: ожидали NotFoundError, получили %v", err)
	}
}

func testStepsParallel(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Race Ltd", "")
	p := mustPeriod(t, st, c.ID, 3, "2024-01-01", "2024-12-31", "2025-09-30")

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.UpsertWorkflowStep(ctx, models.WorkflowStepRecord{
				CustomerID: c.ID, CtTypeID: 3, PeriodID: p.ID, StepNumber: 1, StepKey: "review",
				Data: json.RawMessage(fmt.Sprintf(`{"writer": %d}`, i)),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("параллельный upsert: %v", err)
		}
	}

	var n int
	if err := h.DB.QueryRow(`SELECT count(*) FROM workflow_steps WHERE period_id = $1`, p.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ожидали одну строку на ключ, получили %d", n)
	}
}

func testCascade(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Cascade Ltd", "")
	p := mustPeriod(t, st, c.ID, 1, "2024-01-01", "2024-12-31", "2025-09-30")

	a, err := st.CreateConversionAttempt(ctx, p.ID, 1, "u-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.UpsertWorkflowStep(ctx, models.WorkflowStepRecord{CustomerID: c.ID, CtTypeID: 1, PeriodID: p.ID, StepNumber: 1, StepKey: "k"}); err != nil {
		t.Fatal(err)
	}

	// удаление попытки шаги не трогает
	if err := st.DeleteConversionAttempt(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if steps, _ := st.ListWorkflowSteps(ctx, p.ID, 1); len(steps) != 1 {
		t.Fatalf("шаги должны остаться после удаления попытки: %+v", steps)
	}

	if _, err := st.CreateConversionAttempt(ctx, p.ID, 1, "u-2"); err != nil {
		t.Fatal(err)
	}
	if err := st.DeleteFilingPeriod(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	var attempts, steps int
	_ = h.DB.QueryRow(`SELECT count(*) FROM conversion_attempts WHERE period_id = $1`, p.ID).Scan(&attempts)
	_ = h.DB.QueryRow(`SELECT count(*) FROM workflow_steps WHERE period_id = $1`, p.ID).Scan(&steps)
	if attempts != 0 || steps != 0 {
		t.Fatalf("каскад: осталось попыток %d, шагов %d", attempts, steps)
	}
}

func testOverdue(t *testing.T, st *db.Store, h *testdb.DBHandle) {
	ctx := context.Background()
	c := testdb.SeedCustomer(t, h.DB, "Overdue Ltd", "")
	late := mustPeriod(t, st, c.ID, 2, "2020-01-01", "2020-12-31", "2021-09-30")
	soon := mustPeriod(t, st, c.ID, 2, "2021-01-01", "2021-12-31", "2022-09-30")
	done := mustPeriod(t, st, c.ID, 3, "2020-01-01", "2020-12-31", "2021-09-30")
	submitted := models.PeriodSubmitted
	if _, err := st.UpdateFilingPeriod(ctx, done.ID, models.FilingPeriodPatch{Status: &submitted}); err != nil {
		t.Fatal(err)
	}

	today := d("2022-09-01")
	ids, err := st.MarkOverduePeriods(ctx, today)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != late.ID {
		t.Fatalf("ожидали просрочку только %d, получили %v", late.ID, ids)
	}
	if again, _ := st.MarkOverduePeriods(ctx, today); len(again) != 0 {
		t.Fatalf("повторный прогон ничего не меняет: %v", again)
	}

	due, err := st.ListDuePeriods(ctx, today, today.AddDays(30), 100)
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int64]models.DuePeriod{}
	for _, dp := range due {
		seen[dp.Period.ID] = dp
	}
	if _, ok := seen[late.ID]; !ok {
		t.Fatal("просроченный период должен попасть в сводку")
	}
	if dp, ok := seen[soon.ID]; !ok || dp.CustomerName != "Overdue Ltd" || dp.CtTypeName != "CT Type 2" {
		t.Fatalf("период со сроком в окне должен попасть в сводку: %+v", dp)
	}
	if _, ok := seen[done.ID]; ok {
		t.Fatal("поданный период не напоминаем")
	}
}

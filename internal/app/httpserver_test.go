package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/Spok95/ct-filing/internal/filing"
	"github.com/Spok95/ct-filing/internal/models"
	"github.com/Spok95/ct-filing/internal/testutil/memstore"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeExporter struct{}

func (fakeExporter) Export(ctx context.Context, p filing.ExportPayload) (filing.Artifact, error) {
	return filing.Artifact{Filename: "workflow.xlsx", ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Body: []byte("PK")}, nil
}

func (fakeExporter) PeriodRegister(ctx context.Context, ct models.CtType, periods []models.FilingPeriod) (filing.Artifact, error) {
	return filing.Artifact{Filename: "periods.xlsx", Body: []byte("PK")}, nil
}

type testServer struct {
	h        http.Handler
	auth     *Auth
	customer models.Customer
}

func newTestServer(t *testing.T, skipAuth bool) *testServer {
	t.Helper()
	st := memstore.New()
	c := st.AddCustomer(models.Customer{Name: "ACME", CtPeriodStart: "2024-01-01"})
	auth := NewAuth("test-secret", skipAuth)
	h := NewRouter(Deps{
		Engine: filing.New(st, fakeExporter{}, nil),
		DB:     fakePinger{},
		Auth:   auth,
	})
	return &testServer{h: h, auth: auth, customer: c}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, true)
	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("ожидали X-Request-ID в ответе")
	}

	down := NewRouter(Deps{Engine: filing.New(memstore.New(), nil, nil), DB: fakePinger{err: errors.New("down")}, Auth: NewAuth("", true)})
	rr = httptest.NewRecorder()
	down.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидали 503, получили %d", rr.Code)
	}
}

func TestPeriodsFlow(t *testing.T) {
	s := newTestServer(t, true)
	base := "/api/customers/" + itoa(s.customer.ID) + "/ct-types/type1/periods"

	rr := s.do(t, http.MethodGet, base+"/next", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("next: %d %s", rr.Code, rr.Body.String())
	}
	prop := decode[map[string]any](t, rr)
	if prop["period_from"] != "2024-01-01" || prop["period_to"] != "2024-12-31" || prop["due_date"] != "2025-09-30" || prop["source"] != filing.SourceCustomerAnchor {
		t.Fatalf("unexpected proposal %v", prop)
	}

	rr = s.do(t, http.MethodPost, base, "", map[string]string{
		"period_from": "2024-01-01", "period_to": "2024-12-31", "due_date": "2025-09-30",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	created := decode[models.FilingPeriod](t, rr)
	if created.Status != models.PeriodNotStarted {
		t.Fatalf("unexpected status %s", created.Status)
	}

	rr = s.do(t, http.MethodPost, base, "", map[string]string{
		"period_from": "2024-06-01", "period_to": "2025-05-31", "due_date": "2026-02-28",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("overlap: ожидали 409, получили %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, base, "", map[string]string{
		"period_from": "2026-01-01", "period_to": "2025-12-31", "due_date": "2026-09-30",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad dates: ожидали 400, получили %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, base, "", nil)
	if list := decode[[]models.FilingPeriod](t, rr); len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", list)
	}

	path := "/api/periods/" + itoa(created.ID)
	rr = s.do(t, http.MethodPatch, path, "", map[string]string{"status": "in_progress"})
	if rr.Code != http.StatusOK || decode[models.FilingPeriod](t, rr).Status != models.PeriodInProgress {
		t.Fatalf("patch: %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodPatch, path, "", map[string]string{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: ожидали 400, получили %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, base+"/export", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Content-Disposition"), "periods.xlsx") {
		t.Fatalf("register export: %d %v", rr.Code, rr.Header())
	}

	if rr = s.do(t, http.MethodDelete, path, "", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}
	if rr = s.do(t, http.MethodGet, path, "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get deleted: ожидали 404, получили %d", rr.Code)
	}
	if rr = s.do(t, http.MethodDelete, path, "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("delete twice: ожидали 404, получили %d", rr.Code)
	}
}

func TestUnknownSlug(t *testing.T) {
	s := newTestServer(t, true)
	rr := s.do(t, http.MethodGet, "/api/customers/"+itoa(s.customer.ID)+"/ct-types/type9/periods", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", rr.Code)
	}
	rr = s.do(t, http.MethodGet, "/api/ct-types/resolve/TYPE4", "", nil)
	if rr.Code != http.StatusOK || decode[models.CtType](t, rr).ID != 4 {
		t.Fatalf("resolve: %d %s", rr.Code, rr.Body.String())
	}
}

func TestStepsAndExport(t *testing.T) {
	s := newTestServer(t, true)
	rr := s.do(t, http.MethodPost, "/api/customers/"+itoa(s.customer.ID)+"/ct-types/type4/periods", "", map[string]string{
		"period_from": "2024-01-01", "period_to": "2024-12-31", "due_date": "2025-09-30",
	})
	p := decode[models.FilingPeriod](t, rr)
	scope := "/api/periods/" + itoa(p.ID) + "/ct-types/type4"

	rr = s.do(t, http.MethodPost, scope+"/conversions", "", nil)
	if rr.Code != http.StatusCreated || decode[models.ConversionAttempt](t, rr).UserID != "dev-admin" {
		t.Fatalf("conversion: %d %s", rr.Code, rr.Body.String())
	}

	put := func(status string) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPut, scope+"/steps/1", "", map[string]any{
			"step_key": "upload_tb", "data": map[string]int{"rows": 12}, "status": status,
		})
	}
	if rr = put("draft"); rr.Code != http.StatusOK {
		t.Fatalf("draft: %d %s", rr.Code, rr.Body.String())
	}
	if rr = s.do(t, http.MethodGet, scope+"/export", "", nil); rr.Code != http.StatusConflict {
		t.Fatalf("export before submit: ожидали 409, получили %d", rr.Code)
	}
	if rr = put("submitted"); rr.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rr.Code, rr.Body.String())
	}
	if rr = put("draft"); rr.Code != http.StatusConflict {
		t.Fatalf("regression: ожидали 409, получили %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, scope+"/steps", "", nil)
	steps := decode[[]models.WorkflowStepRecord](t, rr)
	if len(steps) != 1 || steps[0].Status != models.StepSubmitted || steps[0].CustomerID != s.customer.ID {
		t.Fatalf("unexpected steps %+v", steps)
	}

	rr = s.do(t, http.MethodGet, scope+"/export", "", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "PK" {
		t.Fatalf("export: %d %q", rr.Code, rr.Body.String())
	}

	if rr = s.do(t, http.MethodPut, scope+"/steps/x", "", map[string]any{"step_key": "k"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad step: ожидали 400, получили %d", rr.Code)
	}
}

func TestAuthAndPermissions(t *testing.T) {
	s := newTestServer(t, false)
	base := "/api/customers/" + itoa(s.customer.ID) + "/ct-types/type1/periods"
	body := map[string]string{"period_from": "2024-01-01", "period_to": "2024-12-31", "due_date": "2025-09-30"}

	if rr := s.do(t, http.MethodGet, base, "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("без токена ожидали 401, получили %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, base, "garbage", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("с мусорным токеном ожидали 401, получили %d", rr.Code)
	}

	reader, err := s.auth.Issue("u-reader", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rr := s.do(t, http.MethodGet, base, reader, nil); rr.Code != http.StatusOK {
		t.Fatalf("чтение: ожидали 200, получили %d", rr.Code)
	}
	if rr := s.do(t, http.MethodPost, base, reader, body); rr.Code != http.StatusForbidden {
		t.Fatalf("без права ожидали 403, получили %d", rr.Code)
	}

	writer, _ := s.auth.Issue("u-writer", nil, []string{PermPeriodsWrite})
	if rr := s.do(t, http.MethodPost, base, writer, body); rr.Code != http.StatusCreated {
		t.Fatalf("с правом ожидали 201, получили %d %s", rr.Code, rr.Body.String())
	}

	admin, _ := s.auth.Issue("u-admin", []string{RoleAdmin}, nil)
	if rr := s.do(t, http.MethodPatch, "/api/ct-types/1", admin, map[string]string{"name": "CT Type 1 (renamed)"}); rr.Code != http.StatusOK {
		t.Fatalf("admin rename: %d %s", rr.Code, rr.Body.String())
	}

	foreign := NewAuth("other-secret", false)
	tok, _ := foreign.Issue("u-x", []string{RoleAdmin}, nil)
	if rr := s.do(t, http.MethodGet, base, tok, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("чужая подпись: ожидали 401, получили %d", rr.Code)
	}
}

type panicEngine struct{ Engine }

func (panicEngine) ListCtTypes(context.Context) ([]models.CtType, error) { panic("boom") }

func TestRecoverer(t *testing.T) {
	h := NewRouter(Deps{Engine: panicEngine{}, DB: fakePinger{}, Auth: NewAuth("", true)})
	req := httptest.NewRequest(http.MethodGet, "/api/ct-types", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("ожидали 500, получили %d", rr.Code)
	}
	if body := decode[errorBody](t, rr); body.RequestID != "req-42" {
		t.Fatalf("ожидали request_id req-42, получили %+v", body)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

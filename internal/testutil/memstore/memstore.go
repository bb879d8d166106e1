// Package memstore: хранилище движка в памяти для тестов; повторяет контракт Postgres-реализации.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/models"
)

type Store struct {
	mu          sync.Mutex
	seq         int64
	clock       time.Time
	types       []models.CtType
	customers   map[int64]models.Customer
	periods     map[int64]models.FilingPeriod
	conversions map[int64]models.ConversionAttempt
	steps       map[stepKey]models.WorkflowStepRecord
}

type stepKey struct {
	periodID, ctTypeID int64
	step               int
}

func New() *Store {
	return &Store{
		clock: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		types: []models.CtType{
			{ID: 1, Name: "CT Type 1"},
			{ID: 2, Name: "CT Type 2"},
			{ID: 3, Name: "CT Type 3"},
			{ID: 4, Name: "TYPE 4 WORKFLOW (AUDIT REPORT)"},
		},
		customers:   map[int64]models.Customer{},
		periods:     map[int64]models.FilingPeriod{},
		conversions: map[int64]models.ConversionAttempt{},
		steps:       map[stepKey]models.WorkflowStepRecord{},
	}
}

func (m *Store) next() (int64, time.Time) {
	m.seq++
	m.clock = m.clock.Add(time.Second)
	return m.seq, m.clock
}

func (m *Store) ListCtTypes(ctx context.Context) ([]models.CtType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CtType(nil), m.types...), nil
}

func (m *Store) RenameCtType(ctx context.Context, id int64, name string) (models.CtType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.types {
		if m.types[i].ID == id {
			m.types[i].Name = name
			return m.types[i], nil
		}
	}
	return models.CtType{}, apperr.NotFound("ct type %d", id)
}

func (m *Store) GetCustomer(ctx context.Context, id int64) (models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return models.Customer{}, apperr.NotFound("customer %d", id)
	}
	return c, nil
}

func (m *Store) ListFilingPeriods(ctx context.Context, customerID, ctTypeID int64) ([]models.FilingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.FilingPeriod, 0)
	for _, p := range m.periods {
		if p.CustomerID == customerID && p.CtTypeID == ctTypeID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodFrom == out[j].PeriodFrom {
			return out[i].ID > out[j].ID
		}
		return out[i].PeriodFrom.After(out[j].PeriodFrom)
	})
	return out, nil
}

func (m *Store) LatestFilingPeriod(ctx context.Context, customerID, ctTypeID int64) (models.FilingPeriod, error) {
	list, _ := m.ListFilingPeriods(ctx, customerID, ctTypeID)
	if len(list) == 0 {
		return models.FilingPeriod{}, apperr.NotFound("filing period of customer %d", customerID)
	}
	return list[0], nil
}

func (m *Store) CreateFilingPeriod(ctx context.Context, p models.FilingPeriod) (models.FilingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[p.CustomerID]; !ok {
		return models.FilingPeriod{}, apperr.NotFound("filing period: referenced record does not exist")
	}
	for _, o := range m.periods {
		if o.CustomerID == p.CustomerID && o.CtTypeID == p.CtTypeID && o.Overlaps(p) {
			return models.FilingPeriod{}, apperr.Conflict("filing period overlaps an existing period")
		}
	}
	p.ID, p.CreatedAt = m.next()
	p.UpdatedAt = p.CreatedAt
	m.periods[p.ID] = p
	return p, nil
}

func (m *Store) GetFilingPeriod(ctx context.Context, id int64) (models.FilingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return models.FilingPeriod{}, apperr.NotFound("filing period %d", id)
	}
	return p, nil
}

func (m *Store) UpdateFilingPeriod(ctx context.Context, id int64, patch models.FilingPeriodPatch) (models.FilingPeriod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.periods[id]
	if !ok {
		return models.FilingPeriod{}, apperr.NotFound("filing period %d", id)
	}
	next, err := patch.Apply(p)
	if err != nil {
		return models.FilingPeriod{}, err
	}
	for oid, o := range m.periods {
		if oid != id && o.CustomerID == next.CustomerID && o.CtTypeID == next.CtTypeID && o.Overlaps(next) {
			return models.FilingPeriod{}, apperr.Conflict("filing period overlaps an existing period")
		}
	}
	m.periods[id] = next
	return next, nil
}

func (m *Store) DeleteFilingPeriod(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[id]; !ok {
		return apperr.NotFound("filing period %d", id)
	}
	delete(m.periods, id)
	for cid, c := range m.conversions {
		if c.PeriodID == id {
			delete(m.conversions, cid)
		}
	}
	for k := range m.steps {
		if k.periodID == id {
			delete(m.steps, k)
		}
	}
	return nil
}

func (m *Store) CreateConversionAttempt(ctx context.Context, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[periodID]; !ok {
		return models.ConversionAttempt{}, apperr.NotFound("filing period %d", periodID)
	}
	c := models.ConversionAttempt{PeriodID: periodID, CtTypeID: ctTypeID, UserID: userID, Status: models.ConversionDraft}
	c.ID, c.CreatedAt = m.next()
	m.conversions[c.ID] = c
	return c, nil
}

func (m *Store) ListConversionAttempts(ctx context.Context, periodID, ctTypeID int64) ([]models.ConversionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ConversionAttempt, 0)
	for _, c := range m.conversions {
		if c.PeriodID == periodID && c.CtTypeID == ctTypeID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) GetConversionAttempt(ctx context.Context, id int64) (models.ConversionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversions[id]
	if !ok {
		return models.ConversionAttempt{}, apperr.NotFound("conversion attempt %d", id)
	}
	return c, nil
}

func (m *Store) UpdateConversionAttemptStatus(ctx context.Context, id int64, status models.ConversionStatus) (models.ConversionAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversions[id]
	if !ok {
		return models.ConversionAttempt{}, apperr.NotFound("conversion attempt %d", id)
	}
	c.Status = status
	m.conversions[id] = c
	return c, nil
}

func (m *Store) DeleteConversionAttempt(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversions[id]; !ok {
		return apperr.NotFound("conversion attempt %d", id)
	}
	delete(m.conversions, id)
	return nil
}

func (m *Store) UpsertWorkflowStep(ctx context.Context, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[r.PeriodID]; !ok {
		return models.WorkflowStepRecord{}, apperr.NotFound("filing period %d", r.PeriodID)
	}
	k := stepKey{r.PeriodID, r.CtTypeID, r.StepNumber}
	if cur, ok := m.steps[k]; ok {
		if !cur.Status.CanMoveTo(r.Status) {
			return models.WorkflowStepRecord{}, apperr.Conflict("step %d already submitted", r.StepNumber)
		}
		if cur.StepKey == r.StepKey && string(cur.Data) == string(r.Data) && cur.Status == r.Status {
			return cur, nil
		}
	}
	_, r.UpdatedAt = m.next()
	m.steps[k] = r
	return r, nil
}

func (m *Store) ListWorkflowSteps(ctx context.Context, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkflowStepRecord, 0)
	for k, s := range m.steps {
		if k.periodID == periodID && k.ctTypeID == ctTypeID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// AddCustomer заводит клиента (в проде клиентов ведёт CRM).
func (m *Store) AddCustomer(c models.Customer) models.Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID, _ = m.next()
	}
	m.customers[c.ID] = c
	return c
}

// StepCount: сколько записей шагов хранится всего.
func (m *Store) StepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

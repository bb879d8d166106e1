// Package filing собирает движок CT-периодов: резолв типа, периоды, попытки конвертации и шаги workflow.
//
// Все операции синхронные и независимые; состояние живёт в Store.
// Права пользователя проверяет вызывающий слой (HTTP), не движок.
package filing

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/cttype"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/logging"
	"github.com/Spok95/ct-filing/internal/metrics"
	"github.com/Spok95/ct-filing/internal/models"
	"github.com/Spok95/ct-filing/internal/periodcalc"
)

type Store interface {
	ListCtTypes(ctx context.Context) ([]models.CtType, error)
	RenameCtType(ctx context.Context, id int64, name string) (models.CtType, error)
	GetCustomer(ctx context.Context, id int64) (models.Customer, error)

	ListFilingPeriods(ctx context.Context, customerID, ctTypeID int64) ([]models.FilingPeriod, error)
	LatestFilingPeriod(ctx context.Context, customerID, ctTypeID int64) (models.FilingPeriod, error)
	CreateFilingPeriod(ctx context.Context, p models.FilingPeriod) (models.FilingPeriod, error)
	GetFilingPeriod(ctx context.Context, id int64) (models.FilingPeriod, error)
	UpdateFilingPeriod(ctx context.Context, id int64, patch models.FilingPeriodPatch) (models.FilingPeriod, error)
	DeleteFilingPeriod(ctx context.Context, id int64) error

	CreateConversionAttempt(ctx context.Context, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error)
	ListConversionAttempts(ctx context.Context, periodID, ctTypeID int64) ([]models.ConversionAttempt, error)
	GetConversionAttempt(ctx context.Context, id int64) (models.ConversionAttempt, error)
	UpdateConversionAttemptStatus(ctx context.Context, id int64, status models.ConversionStatus) (models.ConversionAttempt, error)
	DeleteConversionAttempt(ctx context.Context, id int64) error

	UpsertWorkflowStep(ctx context.Context, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error)
	ListWorkflowSteps(ctx context.Context, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error)
}

// ExportPayload: структурированные данные поданного workflow для внешней выгрузки.
type ExportPayload struct {
	CtType models.CtType               `json:"ct_type"`
	Period models.FilingPeriod         `json:"period"`
	Steps  []models.WorkflowStepRecord `json:"steps"`
}

// Artifact: бинарный результат выгрузки.
type Artifact struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Exporter: внешний генератор документов. Export вызывается только для поданных шагов.
type Exporter interface {
	Export(ctx context.Context, payload ExportPayload) (Artifact, error)
	PeriodRegister(ctx context.Context, ct models.CtType, periods []models.FilingPeriod) (Artifact, error)
}

const (
	SourceLatestPeriod   = "latest_period"
	SourceCustomerAnchor = "customer_anchor"
)

// Proposal: предложенные даты нового периода и откуда они выведены.
type Proposal struct {
	periodcalc.Proposal
	Source string `json:"source"`
}

type Service struct {
	store    Store
	exporter Exporter
	log      *zap.Logger
}

func New(store Store, exporter Exporter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, exporter: exporter, log: log}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return logging.FromContext(ctx, s.log)
}

func (s *Service) ListCtTypes(ctx context.Context) ([]models.CtType, error) {
	types, err := s.store.ListCtTypes(ctx)
	metrics.ObserveOp("ct_types.list", err)
	return types, err
}

// ResolveCtType: slug маршрута ("type4") в канонический тип.
func (s *Service) ResolveCtType(ctx context.Context, slug string) (models.CtType, error) {
	types, err := s.store.ListCtTypes(ctx)
	if err != nil {
		return models.CtType{}, err
	}
	t, tier, err := cttype.ResolveMatch(types, slug)
	metrics.ObserveOp("ct_types.resolve", err)
	if err != nil {
		return models.CtType{}, err
	}
	if tier == cttype.TierPattern {
		s.logger(ctx).Debug("ct type resolved by name pattern",
			zap.String("slug", slug), zap.Int64("ct_type_id", t.ID), zap.String("name", t.Name))
	}
	return t, nil
}

func (s *Service) RenameCtType(ctx context.Context, id int64, name string) (models.CtType, error) {
	t, err := s.store.RenameCtType(ctx, id, name)
	metrics.ObserveOp("ct_types.rename", err)
	if err == nil {
		s.logger(ctx).Info("ct type renamed", zap.Int64("ct_type_id", id), zap.String("name", t.Name))
	}
	return t, err
}

func (s *Service) ListFilingPeriods(ctx context.Context, customerID, ctTypeID int64) ([]models.FilingPeriod, error) {
	out, err := s.store.ListFilingPeriods(ctx, customerID, ctTypeID)
	metrics.ObserveOp("periods.list", err)
	return out, err
}

// ProposeNextPeriod предлагает даты нового периода: от конца последнего периода,
// а если периодов ещё нет: от якорной даты клиента.
func (s *Service) ProposeNextPeriod(ctx context.Context, customerID, ctTypeID int64) (Proposal, error) {
	p, err := s.proposeNextPeriod(ctx, customerID, ctTypeID)
	metrics.ObserveOp("periods.propose", err)
	return p, err
}

func (s *Service) proposeNextPeriod(ctx context.Context, customerID, ctTypeID int64) (Proposal, error) {
	latest, err := s.store.LatestFilingPeriod(ctx, customerID, ctTypeID)
	switch {
	case err == nil:
		return Proposal{Proposal: periodcalc.ComputeNext(latest.PeriodTo), Source: SourceLatestPeriod}, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return Proposal{}, err
	}

	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return Proposal{}, err
	}
	if c.CtPeriodStart == "" {
		return Proposal{}, apperr.Validation("customer %d has no periods and no ct_period_start anchor date", customerID)
	}
	first, err := periodcalc.ComputeFirstFromString(c.CtPeriodStart)
	if err != nil {
		return Proposal{}, err
	}
	return Proposal{Proposal: first, Source: SourceCustomerAnchor}, nil
}

func (s *Service) CreateFilingPeriod(ctx context.Context, p models.FilingPeriod) (models.FilingPeriod, error) {
	out, err := s.createFilingPeriod(ctx, p)
	metrics.ObserveOp("periods.create", err)
	if err == nil {
		s.logger(ctx).Info("filing period created",
			zap.Int64("period_id", out.ID), zap.Int64("customer_id", out.CustomerID), zap.Int64("ct_type_id", out.CtTypeID),
			zap.Stringer("period_from", out.PeriodFrom), zap.Stringer("period_to", out.PeriodTo))
	}
	return out, err
}

func (s *Service) createFilingPeriod(ctx context.Context, p models.FilingPeriod) (models.FilingPeriod, error) {
	if p.CustomerID <= 0 || p.CtTypeID <= 0 {
		return models.FilingPeriod{}, apperr.Validation("customer_id and ct_type_id are required")
	}
	if p.Status == "" {
		p.Status = models.PeriodNotStarted
	}
	if err := p.Validate(); err != nil {
		return models.FilingPeriod{}, err
	}
	return s.store.CreateFilingPeriod(ctx, p)
}

func (s *Service) GetFilingPeriod(ctx context.Context, id int64) (models.FilingPeriod, error) {
	p, err := s.store.GetFilingPeriod(ctx, id)
	metrics.ObserveOp("periods.get", err)
	return p, err
}

func (s *Service) UpdateFilingPeriod(ctx context.Context, id int64, patch models.FilingPeriodPatch) (models.FilingPeriod, error) {
	p, err := s.store.UpdateFilingPeriod(ctx, id, patch)
	metrics.ObserveOp("periods.update", err)
	if err == nil {
		s.logger(ctx).Info("filing period updated", zap.Int64("period_id", id), zap.String("status", string(p.Status)))
	}
	return p, err
}

// DeleteFilingPeriod удаляет период вместе с его попытками и шагами.
func (s *Service) DeleteFilingPeriod(ctx context.Context, id int64) error {
	err := s.store.DeleteFilingPeriod(ctx, id)
	metrics.ObserveOp("periods.delete", err)
	if err == nil {
		s.logger(ctx).Info("filing period deleted", zap.Int64("period_id", id))
	}
	return err
}

func (s *Service) ListConversionAttempts(ctx context.Context, periodID, ctTypeID int64) ([]models.ConversionAttempt, error) {
	out, err := s.listConversionAttempts(ctx, periodID, ctTypeID)
	metrics.ObserveOp("conversions.list", err)
	return out, err
}

func (s *Service) listConversionAttempts(ctx context.Context, periodID, ctTypeID int64) ([]models.ConversionAttempt, error) {
	if _, err := s.store.GetFilingPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return s.store.ListConversionAttempts(ctx, periodID, ctTypeID)
}

// CreateConversionAttempt заводит новую попытку от имени пользователя из контекста или userID.
func (s *Service) CreateConversionAttempt(ctx context.Context, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error) {
	if userID == "" {
		userID, _ = ctxutil.UserID(ctx)
	}
	c, err := s.createConversionAttempt(ctx, periodID, ctTypeID, userID)
	metrics.ObserveOp("conversions.create", err)
	if err == nil {
		s.logger(ctx).Info("conversion attempt created",
			zap.Int64("conversion_id", c.ID), zap.Int64("period_id", periodID), zap.Int64("ct_type_id", ctTypeID))
	}
	return c, err
}

func (s *Service) createConversionAttempt(ctx context.Context, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error) {
	if userID == "" {
		return models.ConversionAttempt{}, apperr.Validation("user_id is required")
	}
	if _, err := s.store.GetFilingPeriod(ctx, periodID); err != nil {
		return models.ConversionAttempt{}, err
	}
	return s.store.CreateConversionAttempt(ctx, periodID, ctTypeID, userID)
}

func (s *Service) GetConversionAttempt(ctx context.Context, id int64) (models.ConversionAttempt, error) {
	c, err := s.store.GetConversionAttempt(ctx, id)
	metrics.ObserveOp("conversions.get", err)
	return c, err
}

func (s *Service) UpdateConversionAttemptStatus(ctx context.Context, id int64, status models.ConversionStatus) (models.ConversionAttempt, error) {
	var (
		c   models.ConversionAttempt
		err error
	)
	if !status.Valid() {
		err = apperr.Validation("unknown conversion status %q", status)
	} else {
		c, err = s.store.UpdateConversionAttemptStatus(ctx, id, status)
	}
	metrics.ObserveOp("conversions.update", err)
	return c, err
}

// DeleteConversionAttempt удаляет попытку; шаги периода остаются (они не принадлежат попытке).
func (s *Service) DeleteConversionAttempt(ctx context.Context, id int64) error {
	err := s.store.DeleteConversionAttempt(ctx, id)
	metrics.ObserveOp("conversions.delete", err)
	if err == nil {
		s.logger(ctx).Info("conversion attempt deleted", zap.Int64("conversion_id", id))
	}
	return err
}

// UpsertWorkflowStep сохраняет данные шага. customer_id берётся из периода, если не передан.
func (s *Service) UpsertWorkflowStep(ctx context.Context, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error) {
	out, err := s.upsertWorkflowStep(ctx, r)
	metrics.ObserveOp("steps.upsert", err)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.logger(ctx).Warn("workflow step regression rejected",
				zap.Int64("period_id", r.PeriodID), zap.Int("step_number", r.StepNumber), zap.String("status", string(r.Status)))
		}
		return out, err
	}
	metrics.StepUpserts.WithLabelValues(string(out.Status)).Inc()
	s.logger(ctx).Debug("workflow step saved",
		zap.Int64("period_id", out.PeriodID), zap.Int64("ct_type_id", out.CtTypeID),
		zap.Int("step_number", out.StepNumber), zap.String("step_key", out.StepKey), zap.String("status", string(out.Status)))
	return out, nil
}

func (s *Service) upsertWorkflowStep(ctx context.Context, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error) {
	if r.PeriodID <= 0 {
		return models.WorkflowStepRecord{}, apperr.Validation("period_id is required")
	}
	p, err := s.store.GetFilingPeriod(ctx, r.PeriodID)
	if err != nil {
		return models.WorkflowStepRecord{}, err
	}
	if r.CustomerID == 0 {
		r.CustomerID = p.CustomerID
	}
	if r.CustomerID != p.CustomerID {
		return models.WorkflowStepRecord{}, apperr.Validation(
			"customer_id %d does not own period %d", r.CustomerID, r.PeriodID)
	}
	r, err = r.Normalize()
	if err != nil {
		return models.WorkflowStepRecord{}, err
	}
	return s.store.UpsertWorkflowStep(ctx, r)
}

func (s *Service) ListWorkflowSteps(ctx context.Context, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error) {
	out, err := s.listWorkflowSteps(ctx, periodID, ctTypeID)
	metrics.ObserveOp("steps.list", err)
	return out, err
}

func (s *Service) listWorkflowSteps(ctx context.Context, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error) {
	if _, err := s.store.GetFilingPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return s.store.ListWorkflowSteps(ctx, periodID, ctTypeID)
}

// ExportWorkflow отдаёт данные шагов во внешний экспорт. Допустимо, только когда
// есть хотя бы один шаг и все шаги уже submitted.
func (s *Service) ExportWorkflow(ctx context.Context, periodID, ctTypeID int64) (Artifact, error) {
	a, err := s.exportWorkflow(ctx, periodID, ctTypeID)
	metrics.ObserveOp("steps.export", err)
	return a, err
}

func (s *Service) exportWorkflow(ctx context.Context, periodID, ctTypeID int64) (Artifact, error) {
	if s.exporter == nil {
		return Artifact{}, errors.New("exporter is not configured")
	}
	p, err := s.store.GetFilingPeriod(ctx, periodID)
	if err != nil {
		return Artifact{}, err
	}
	types, err := s.store.ListCtTypes(ctx)
	if err != nil {
		return Artifact{}, err
	}
	ct, ok := findCtType(types, ctTypeID)
	if !ok {
		return Artifact{}, apperr.NotFound("ct type %d", ctTypeID)
	}
	steps, err := s.store.ListWorkflowSteps(ctx, periodID, ctTypeID)
	if err != nil {
		return Artifact{}, err
	}
	if len(steps) == 0 {
		return Artifact{}, apperr.Conflict("period %d has no workflow steps to export", periodID)
	}
	for _, st := range steps {
		if st.Status != models.StepSubmitted {
			return Artifact{}, apperr.Conflict("step %d (%s) of period %d is %s, export needs every step submitted",
				st.StepNumber, st.StepKey, periodID, st.Status)
		}
	}
	a, err := s.exporter.Export(ctx, ExportPayload{CtType: ct, Period: p, Steps: steps})
	if err != nil {
		s.logger(ctx).Error("workflow export failed", zap.Int64("period_id", periodID), zap.Error(err))
		return Artifact{}, err
	}
	return a, nil
}

// ExportPeriodRegister выгружает реестр периодов клиента по типу.
func (s *Service) ExportPeriodRegister(ctx context.Context, customerID, ctTypeID int64) (Artifact, error) {
	a, err := s.exportPeriodRegister(ctx, customerID, ctTypeID)
	metrics.ObserveOp("periods.export", err)
	return a, err
}

func (s *Service) exportPeriodRegister(ctx context.Context, customerID, ctTypeID int64) (Artifact, error) {
	if s.exporter == nil {
		return Artifact{}, errors.New("exporter is not configured")
	}
	types, err := s.store.ListCtTypes(ctx)
	if err != nil {
		return Artifact{}, err
	}
	ct, ok := findCtType(types, ctTypeID)
	if !ok {
		return Artifact{}, apperr.NotFound("ct type %d", ctTypeID)
	}
	periods, err := s.store.ListFilingPeriods(ctx, customerID, ctTypeID)
	if err != nil {
		return Artifact{}, err
	}
	return s.exporter.PeriodRegister(ctx, ct, periods)
}

func findCtType(types []models.CtType, id int64) (models.CtType, bool) {
	for _, t := range types {
		if t.ID == id {
			return t, true
		}
	}
	return models.CtType{}, false
}

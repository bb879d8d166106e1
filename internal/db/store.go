package db

import (
	"context"
	"database/sql"

	"cloud.google.com/go/civil"

	"github.com/Spok95/ct-filing/internal/models"
)

// Store: обёртка над функциями пакета для слоя filing.
type Store struct {
	DB *sql.DB
}

func NewStore(database *sql.DB) *Store { return &Store{DB: database} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) ListCtTypes(ctx context.Context) ([]models.CtType, error) {
	return ListCtTypes(ctx, s.DB)
}

func (s *Store) RenameCtType(ctx context.Context, id int64, name string) (models.CtType, error) {
	return RenameCtType(ctx, s.DB, id, name)
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (models.Customer, error) {
	return GetCustomer(ctx, s.DB, id)
}

func (s *Store) ListFilingPeriods(ctx context.Context, customerID, ctTypeID int64) ([]models.FilingPeriod, error) {
	return ListFilingPeriods(ctx, s.DB, customerID, ctTypeID)
}

func (s *Store) LatestFilingPeriod(ctx context.Context, customerID, ctTypeID int64) (models.FilingPeriod, error) {
	return LatestFilingPeriod(ctx, s.DB, customerID, ctTypeID)
}

func (s *Store) CreateFilingPeriod(ctx context.Context, p models.FilingPeriod) (models.FilingPeriod, error) {
	return CreateFilingPeriod(ctx, s.DB, p)
}

func (s *Store) GetFilingPeriod(ctx context.Context, id int64) (models.FilingPeriod, error) {
	return GetFilingPeriod(ctx, s.DB, id)
}

func (s *Store) UpdateFilingPeriod(ctx context.Context, id int64, patch models.FilingPeriodPatch) (models.FilingPeriod, error) {
	return UpdateFilingPeriod(ctx, s.DB, id, patch)
}

func (s *Store) DeleteFilingPeriod(ctx context.Context, id int64) error {
	return DeleteFilingPeriod(ctx, s.DB, id)
}

func (s *Store) MarkOverduePeriods(ctx context.Context, today civil.Date) ([]int64, error) {
	return MarkOverduePeriods(ctx, s.DB, today)
}

func (s *Store) ListDuePeriods(ctx context.Context, from, to civil.Date, limit int) ([]models.DuePeriod, error) {
	return ListDuePeriods(ctx, s.DB, from, to, limit)
}

func (s *Store) CreateConversionAttempt(ctx context.Context, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error) {
	return CreateConversionAttempt(ctx, s.DB, periodID, ctTypeID, userID)
}

func (s *Store) ListConversionAttempts(ctx context.Context, periodID, ctTypeID int64) ([]models.ConversionAttempt, error) {
	return ListConversionAttempts(ctx, s.DB, periodID, ctTypeID)
}

func (s *Store) GetConversionAttempt(ctx context.Context, id int64) (models.ConversionAttempt, error) {
	return GetConversionAttempt(ctx, s.DB, id)
}

func (s *Store) UpdateConversionAttemptStatus(ctx context.Context, id int64, status models.ConversionStatus) (models.ConversionAttempt, error) {
	return UpdateConversionAttemptStatus(ctx, s.DB, id, status)
}

func (s *Store) DeleteConversionAttempt(ctx context.Context, id int64) error {
	return DeleteConversionAttempt(ctx, s.DB, id)
}

func (s *Store) UpsertWorkflowStep(ctx context.Context, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error) {
	return UpsertWorkflowStep(ctx, s.DB, r)
}

func (s *Store) ListWorkflowSteps(ctx context.Context, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error) {
	return ListWorkflowSteps(ctx, s.DB, periodID, ctTypeID)
}

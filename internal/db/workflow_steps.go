package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/models"
)

const stepCols = `customer_id, ct_type_id, period_id, step_number, step_key, data, status, updated_at`

func scanStep(r rowScanner) (models.WorkflowStepRecord, error) {
	var (
		s    models.WorkflowStepRecord
		data []byte
	)
	if err := r.Scan(&s.CustomerID, &s.CtTypeID, &s.PeriodID, &s.StepNumber, &s.StepKey, &data, &s.Status, &s.UpdatedAt); err != nil {
		return models.WorkflowStepRecord{}, err
	}
	s.Data = data
	return s, nil
}

// UpsertWorkflowStep: атомарный insert-or-update по (period_id, ct_type_id, step_number).
//
// data и status заменяются целиком. Гонка двух писателей разрешается уникальным
// ключом: последний выигрывает, дубликатов не бывает. Шаг в статусе submitted
// можно перезаписать только записью submitted; иначе WHERE отсекает UPDATE,
// RETURNING ничего не отдаёт и мы возвращаем ConflictError.
// Повтор идентичной записи не трогает updated_at.
func UpsertWorkflowStep(ctx context.Context, database *sql.DB, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error) {
	r, err := r.Normalize()
	if err != nil {
		return models.WorkflowStepRecord{}, err
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	out, err := scanStep(database.QueryRowContext(ctx, `
		INSERT INTO workflow_steps AS s (customer_id, ct_type_id, period_id, step_number, step_key, data, status)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT ON CONSTRAINT workflow_steps_key DO UPDATE
		SET customer_id = EXCLUDED.customer_id,
		    step_key    = EXCLUDED.step_key,
		    data        = EXCLUDED.data,
		    status      = EXCLUDED.status,
		    updated_at  = CASE
		        WHEN s.customer_id = EXCLUDED.customer_id
		         AND s.step_key = EXCLUDED.step_key
		         AND s.data = EXCLUDED.data
		         AND s.status = EXCLUDED.status
		        THEN s.updated_at
		        ELSE now()
		    END
		WHERE s.status <> 'submitted' OR EXCLUDED.status = 'submitted'
		RETURNING `+stepCols,
		r.CustomerID, r.CtTypeID, r.PeriodID, r.StepNumber, r.StepKey, string(r.Data), string(r.Status)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.WorkflowStepRecord{}, apperr.Conflict(
			"step %d of period %d is already submitted and cannot move back to %s", r.StepNumber, r.PeriodID, r.Status)
	}
	if err != nil {
		return models.WorkflowStepRecord{}, mapErr(err, fmt.Sprintf("workflow step %d of period %d", r.StepNumber, r.PeriodID))
	}
	return out, nil
}

// ListWorkflowSteps: шаги периода и типа по порядку номеров.
func ListWorkflowSteps(ctx context.Context, database *sql.DB, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT `+stepCols+`
		FROM workflow_steps
		WHERE period_id = $1 AND ct_type_id = $2
		ORDER BY step_number`, periodID, ctTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.WorkflowStepRecord, 0)
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

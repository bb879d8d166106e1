package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/models"
)

const periodCols = `id, customer_id, ct_type_id, period_from, period_to, due_date, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(r rowScanner) (models.FilingPeriod, error) {
	var (
		p             models.FilingPeriod
		from, to, due time.Time
	)
	if err := r.Scan(&p.ID, &p.CustomerID, &p.CtTypeID, &from, &to, &due, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.FilingPeriod{}, err
	}
	p.PeriodFrom = civil.DateOf(from)
	p.PeriodTo = civil.DateOf(to)
	p.DueDate = civil.DateOf(due)
	return p, nil
}

// ListFilingPeriods: периоды пары (клиент, тип), самый свежий первым.
// Цепочка "следующий период" читает [0] как последний период.
func ListFilingPeriods(ctx context.Context, database *sql.DB, customerID, ctTypeID int64) ([]models.FilingPeriod, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT `+periodCols+`
		FROM filing_periods
		WHERE customer_id = $1 AND ct_type_id = $2
		ORDER BY period_from DESC, id DESC`, customerID, ctTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.FilingPeriod, 0)
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestFilingPeriod: последний по дате начала период пары; NotFoundError, если периодов нет.
func LatestFilingPeriod(ctx context.Context, database *sql.DB, customerID, ctTypeID int64) (models.FilingPeriod, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	p, err := scanPeriod(database.QueryRowContext(ctx, `
		SELECT `+periodCols+`
		FROM filing_periods
		WHERE customer_id = $1 AND ct_type_id = $2
		ORDER BY period_from DESC, id DESC
		LIMIT 1`, customerID, ctTypeID))
	if err != nil {
		return models.FilingPeriod{}, mapErr(err, fmt.Sprintf("filing period of customer %d, ct type %d", customerID, ctTypeID))
	}
	return p, nil
}

func CreateFilingPeriod(ctx context.Context, database *sql.DB, p models.FilingPeriod) (models.FilingPeriod, error) {
	if p.Status == "" {
		p.Status = models.PeriodNotStarted
	}
	if err := p.Validate(); err != nil {
		return models.FilingPeriod{}, err
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	out, err := scanPeriod(database.QueryRowContext(ctx, `
		INSERT INTO filing_periods (customer_id, ct_type_id, period_from, period_to, due_date, status)
		VALUES ($1, $2, $3::date, $4::date, $5::date, $6)
		RETURNING `+periodCols,
		p.CustomerID, p.CtTypeID, p.PeriodFrom.String(), p.PeriodTo.String(), p.DueDate.String(), string(p.Status)))
	if err != nil {
		return models.FilingPeriod{}, mapErr(err, "filing period")
	}
	return out, nil
}

func GetFilingPeriod(ctx context.Context, database *sql.DB, id int64) (models.FilingPeriod, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	p, err := scanPeriod(database.QueryRowContext(ctx, `
		SELECT `+periodCols+` FROM filing_periods WHERE id = $1`, id))
	if err != nil {
		return models.FilingPeriod{}, mapErr(err, fmt.Sprintf("filing period %d", id))
	}
	return p, nil
}

// UpdateFilingPeriod: частичное обновление дат/статуса под блокировкой строки.
func UpdateFilingPeriod(ctx context.Context, database *sql.DB, id int64, patch models.FilingPeriodPatch) (models.FilingPeriod, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	tx, err := database.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return models.FilingPeriod{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanPeriod(tx.QueryRowContext(ctx, `
		SELECT `+periodCols+` FROM filing_periods WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return models.FilingPeriod{}, mapErr(err, fmt.Sprintf("filing period %d", id))
	}
	if patch.Empty() {
		return cur, nil
	}
	next, err := patch.Apply(cur)
	if err != nil {
		return models.FilingPeriod{}, err
	}

	out, err := scanPeriod(tx.QueryRowContext(ctx, `
		UPDATE filing_periods
		SET period_from = $1::date, period_to = $2::date, due_date = $3::date, status = $4, updated_at = now()
		WHERE id = $5
		RETURNING `+periodCols,
		next.PeriodFrom.String(), next.PeriodTo.String(), next.DueDate.String(), string(next.Status), id))
	if err != nil {
		return models.FilingPeriod{}, mapErr(err, fmt.Sprintf("filing period %d", id))
	}
	if err := tx.Commit(); err != nil {
		return models.FilingPeriod{}, err
	}
	return out, nil
}

// DeleteFilingPeriod удаляет период; попытки и шаги уходят каскадом (FK ON DELETE CASCADE).
func DeleteFilingPeriod(ctx context.Context, database *sql.DB, id int64) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := database.ExecContext(ctx, `DELETE FROM filing_periods WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("filing period %d", id)
	}
	return nil
}

// MarkOverduePeriods переводит в overdue незавершённые периоды с due_date < today. Возвращает их id.
func MarkOverduePeriods(ctx context.Context, database *sql.DB, today civil.Date) ([]int64, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		UPDATE filing_periods
		SET status = 'overdue', updated_at = now()
		WHERE due_date < $1::date AND status IN ('not_started', 'in_progress')
		RETURNING id`, today.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDuePeriods: неподанные периоды со сроком в окне [from, to] и все просроченные.
func ListDuePeriods(ctx context.Context, database *sql.DB, from, to civil.Date, limit int) ([]models.DuePeriod, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT p.id, p.customer_id, p.ct_type_id, p.period_from, p.period_to, p.due_date, p.status, p.created_at, p.updated_at,
		       c.name, t.name
		FROM filing_periods p
		JOIN customers c ON c.id = p.customer_id
		JOIN ct_types t ON t.id = p.ct_type_id
		WHERE (p.due_date BETWEEN $1::date AND $2::date AND p.status IN ('not_started', 'in_progress'))
		   OR p.status = 'overdue'
		ORDER BY p.due_date, p.id
		LIMIT $3`, from.String(), to.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.DuePeriod, 0)
	for rows.Next() {
		var (
			dp        models.DuePeriod
			f, t, due time.Time
		)
		p := &dp.Period
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.CtTypeID, &f, &t, &due, &p.Status, &p.CreatedAt, &p.UpdatedAt,
			&dp.CustomerName, &dp.CtTypeName); err != nil {
			return nil, err
		}
		p.PeriodFrom, p.PeriodTo, p.DueDate = civil.DateOf(f), civil.DateOf(t), civil.DateOf(due)
		out = append(out, dp)
	}
	return out, rows.Err()
}

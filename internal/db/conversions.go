package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/models"
)

const conversionCols = `id, period_id, ct_type_id, user_id, created_at, status`

func scanConversion(r rowScanner) (models.ConversionAttempt, error) {
	var c models.ConversionAttempt
	err := r.Scan(&c.ID, &c.PeriodID, &c.CtTypeID, &c.UserID, &c.CreatedAt, &c.Status)
	return c, err
}

// CreateConversionAttempt: новая независимая попытка в статусе draft.
// Несуществующий период или тип даёт NotFoundError через FK.
func CreateConversionAttempt(ctx context.Context, database *sql.DB, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error) {
	if userID == "" {
		return models.ConversionAttempt{}, apperr.Validation("user_id is required")
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	c, err := scanConversion(database.QueryRowContext(ctx, `
		INSERT INTO conversion_attempts (period_id, ct_type_id, user_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+conversionCols,
		periodID, ctTypeID, userID, string(models.ConversionDraft)))
	if err != nil {
		return models.ConversionAttempt{}, mapErr(err, fmt.Sprintf("conversion attempt for period %d", periodID))
	}
	return c, nil
}

// ListConversionAttempts: попытки по периоду и типу, свежие первыми.
func ListConversionAttempts(ctx context.Context, database *sql.DB, periodID, ctTypeID int64) ([]models.ConversionAttempt, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `
		SELECT `+conversionCols+`
		FROM conversion_attempts
		WHERE period_id = $1 AND ct_type_id = $2
		ORDER BY created_at DESC, id DESC`, periodID, ctTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.ConversionAttempt, 0)
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func GetConversionAttempt(ctx context.Context, database *sql.DB, id int64) (models.ConversionAttempt, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	c, err := scanConversion(database.QueryRowContext(ctx, `
		SELECT `+conversionCols+` FROM conversion_attempts WHERE id = $1`, id))
	if err != nil {
		return models.ConversionAttempt{}, mapErr(err, fmt.Sprintf("conversion attempt %d", id))
	}
	return c, nil
}

func UpdateConversionAttemptStatus(ctx context.Context, database *sql.DB, id int64, status models.ConversionStatus) (models.ConversionAttempt, error) {
	if !status.Valid() {
		return models.ConversionAttempt{}, apperr.Validation("unknown conversion status %q", status)
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	c, err := scanConversion(database.QueryRowContext(ctx, `
		UPDATE conversion_attempts SET status = $1 WHERE id = $2
		RETURNING `+conversionCols, string(status), id))
	if err != nil {
		return models.ConversionAttempt{}, mapErr(err, fmt.Sprintf("conversion attempt %d", id))
	}
	return c, nil
}

// DeleteConversionAttempt удаляет только попытку: шаги привязаны к периоду, а не к попытке.
func DeleteConversionAttempt(ctx context.Context, database *sql.DB, id int64) error {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	res, err := database.ExecContext(ctx, `DELETE FROM conversion_attempts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound("conversion attempt %d", id)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/models"
)

// ListCtTypes: справочник CT-типов в порядке id (порядок важен для резолвера).
func ListCtTypes(ctx context.Context, database *sql.DB) ([]models.CtType, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	rows, err := database.QueryContext(ctx, `SELECT id, name FROM ct_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CtType
	for rows.Next() {
		var t models.CtType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RenameCtType: оператор переименовывает тип; slug "typeN" должен продолжать резолвиться.
func RenameCtType(ctx context.Context, database *sql.DB, id int64, name string) (models.CtType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.CtType{}, apperr.Validation("ct type name is empty")
	}
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	t := models.CtType{}
	err := database.QueryRowContext(ctx, `
		UPDATE ct_types SET name = $1 WHERE id = $2
		RETURNING id, name`, name, id).Scan(&t.ID, &t.Name)
	if err != nil {
		return models.CtType{}, mapErr(err, fmt.Sprintf("ct type %d", id))
	}
	return t, nil
}

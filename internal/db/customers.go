package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/models"
)

func GetCustomer(ctx context.Context, database *sql.DB, id int64) (models.Customer, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	var (
		c      models.Customer
		anchor sql.NullString
	)
	err := database.QueryRowContext(ctx, `
		SELECT id, name, ct_period_start FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &anchor)
	if err != nil {
		return models.Customer{}, mapErr(err, fmt.Sprintf("customer %d", id))
	}
	c.CtPeriodStart = anchor.String
	return c, nil
}

// UpsertCustomer сохраняет клиента, пришедшего из CRM. ID = 0: новый клиент.
func UpsertCustomer(ctx context.Context, database *sql.DB, c models.Customer) (models.Customer, error) {
	ctx, cancel := ctxutil.WithDBTimeout(ctx)
	defer cancel()

	anchor := sql.NullString{String: c.CtPeriodStart, Valid: c.CtPeriodStart != ""}
	var err error
	if c.ID == 0 {
		err = database.QueryRowContext(ctx, `
			INSERT INTO customers (name, ct_period_start) VALUES ($1, $2) RETURNING id`,
			c.Name, anchor).Scan(&c.ID)
	} else {
		_, err = database.ExecContext(ctx, `
			INSERT INTO customers (id, name, ct_period_start) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, ct_period_start = EXCLUDED.ct_period_start`,
			c.ID, c.Name, anchor)
	}
	if err != nil {
		return models.Customer{}, mapErr(err, "customer")
	}
	return c, nil
}

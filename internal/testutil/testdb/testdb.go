//go:build testutil
// +build testutil

package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/Spok95/ct-filing/internal/db"
	"github.com/Spok95/ct-filing/internal/models"
)

type DBHandle struct {
	DB     *sql.DB
	cancel func()
	stop   func(context.Context) error
}

func (h *DBHandle) Close() {
	if h.DB != nil {
		_ = h.DB.Close()
	}
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
	if h.cancel != nil {
		h.cancel()
	}
}

// Start поднимает Postgres в контейнере и накатывает миграции через goose.
func Start(ctx context.Context) (*DBHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:17-alpine"),
		postgres.WithDatabase("ctfiling"),
		postgres.WithUsername("ctfiling"),
		postgres.WithPassword("ctfiling"),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	fail := func(err error) (*DBHandle, error) {
		_ = pg.Terminate(context.Background())
		cancel()
		return nil, err
	}

	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fail(err)
	}
	database, err := sql.Open("postgres", uri)
	if err != nil {
		return fail(err)
	}
	if err := waitReady(ctx, database); err != nil {
		return fail(err)
	}
	if err := db.Migrate(database); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}

	return &DBHandle{
		DB:     database,
		cancel: cancel,
		stop:   pg.Terminate,
	}, nil
}

// MustStart вызывает Start и гасит контейнер в t.Cleanup.
func MustStart(t *testing.T) *DBHandle {
	t.Helper()
	h, err := Start(context.Background())
	if err != nil {
		t.Fatalf("testdb: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func waitReady(ctx context.Context, database *sql.DB) error {
	dead := time.Now().Add(20 * time.Second)
	for time.Now().Before(dead) {
		if err := database.PingContext(ctx); err == nil {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return errors.New("db not ready")
}

// SeedCustomer заводит клиента с якорной датой (может быть пустой).
func SeedCustomer(t *testing.T, database *sql.DB, name, anchor string) models.Customer {
	t.Helper()
	c, err := db.UpsertCustomer(context.Background(), database, models.Customer{Name: name, CtPeriodStart: anchor})
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return c
}

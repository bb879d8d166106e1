package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// DBHeartbeat пингует базу и пишет задержку в ctfiling_db_ping_seconds.
func DBHeartbeat(db Pinger) Job {
	return func(ctx context.Context) error {
		ctx, cancel := ctxutil.WithDBTimeout(ctx)
		defer cancel()
		start := time.Now()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("db ping: %w", err)
		}
		metrics.ObserveDBPing(time.Since(start))
		return nil
	}
}

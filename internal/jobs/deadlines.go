package jobs

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/models"
)

type OverdueMarker interface {
	MarkOverduePeriods(ctx context.Context, today civil.Date) ([]int64, error)
}

type DueLister interface {
	ListDuePeriods(ctx context.Context, from, to civil.Date, limit int) ([]models.DuePeriod, error)
}

type DueNotifier interface {
	NotifyDue(ctx context.Context, today civil.Date, periods []models.DuePeriod) error
}

// сколько периодов максимум попадает в одну сводку
const reminderLimit = 200

// Clock: текущее время; подменяется в тестах.
type Clock func() time.Time

func today(now Clock, loc *time.Location) civil.Date {
	return civil.DateOf(now().In(loc))
}

// OverdueSweep переводит в overdue периоды с прошедшим сроком подачи.
func OverdueSweep(store OverdueMarker, now Clock, loc *time.Location, log *zap.Logger) Job {
	return func(ctx context.Context) error {
		d := today(now, loc)
		ids, err := store.MarkOverduePeriods(ctx, d)
		if err != nil {
			return fmt.Errorf("mark overdue: %w", err)
		}
		if len(ids) > 0 {
			periodsMarkedOverdue.Add(float64(len(ids)))
			log.Info("filing periods marked overdue", zap.Stringer("today", d), zap.Int64s("period_ids", ids))
		}
		return nil
	}
}

// DueReminder рассылает сводку по просроченным и подходящим в ближайшие days дней периодам.
func DueReminder(store DueLister, notifier DueNotifier, days int, now Clock, loc *time.Location, log *zap.Logger) Job {
	return func(ctx context.Context) error {
		d := today(now, loc)
		periods, err := store.ListDuePeriods(ctx, d, d.AddDays(days), reminderLimit)
		if err != nil {
			return fmt.Errorf("list due periods: %w", err)
		}
		if len(periods) == 0 {
			return nil
		}
		if err := notifier.NotifyDue(ctx, d, periods); err != nil {
			return fmt.Errorf("notify due: %w", err)
		}
		log.Info("due reminder sent", zap.Stringer("today", d), zap.Int("periods", len(periods)))
		return nil
	}
}

package models

import "time"

type ConversionStatus string

const (
	ConversionDraft      ConversionStatus = "draft"
	ConversionInProgress ConversionStatus = "in_progress"
	ConversionCompleted  ConversionStatus = "completed"
	ConversionSubmitted  ConversionStatus = "submitted"
)

func (s ConversionStatus) Valid() bool {
	switch s {
	case ConversionDraft, ConversionInProgress, ConversionCompleted, ConversionSubmitted:
		return true
	}
	return false
}

// ConversionAttempt: один независимый прогон workflow по периоду.
// Status: грубая сводка, детальное состояние живёт в шагах.
type ConversionAttempt struct {
	ID        int64            `db:"id" json:"id"`
	PeriodID  int64            `db:"period_id" json:"period_id"`
	CtTypeID  int64            `db:"ct_type_id" json:"ct_type_id"`
	UserID    string           `db:"user_id" json:"user_id"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	Status    ConversionStatus `db:"status" json:"status"`
}

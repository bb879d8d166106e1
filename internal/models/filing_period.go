package models

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/Spok95/ct-filing/internal/apperr"
)

type PeriodStatus string

const (
	PeriodNotStarted PeriodStatus = "not_started"
	PeriodInProgress PeriodStatus = "in_progress"
	PeriodCompleted  PeriodStatus = "completed"
	PeriodSubmitted  PeriodStatus = "submitted"
	PeriodOverdue    PeriodStatus = "overdue"
)

func (s PeriodStatus) Valid() bool {
	switch s {
	case PeriodNotStarted, PeriodInProgress, PeriodCompleted, PeriodSubmitted, PeriodOverdue:
		return true
	}
	return false
}

// FilingPeriod: отчётный период пары (клиент, CT-тип).
type FilingPeriod struct {
	ID         int64        `db:"id" json:"id"`
	CustomerID int64        `db:"customer_id" json:"customer_id"`
	CtTypeID   int64        `db:"ct_type_id" json:"ct_type_id"`
	PeriodFrom civil.Date   `db:"period_from" json:"period_from"`
	PeriodTo   civil.Date   `db:"period_to" json:"period_to"`
	DueDate    civil.Date   `db:"due_date" json:"due_date"`
	Status     PeriodStatus `db:"status" json:"status"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// Validate проверяет инварианты: period_to > period_from, due_date >= period_to.
func (p FilingPeriod) Validate() error {
	if !p.PeriodFrom.IsValid() || !p.PeriodTo.IsValid() || !p.DueDate.IsValid() {
		return apperr.Validation("period_from, period_to and due_date are required")
	}
	if !p.PeriodTo.After(p.PeriodFrom) {
		return apperr.Validation("period_to %s must be after period_from %s", p.PeriodTo, p.PeriodFrom)
	}
	if p.DueDate.Before(p.PeriodTo) {
		return apperr.Validation("due_date %s must not be before period_to %s", p.DueDate, p.PeriodTo)
	}
	if p.Status != "" && !p.Status.Valid() {
		return apperr.Validation("unknown period status %q", p.Status)
	}
	return nil
}

// Overlaps: пересекаются ли диапазоны [from, to] двух периодов (границы включительно).
func (p FilingPeriod) Overlaps(o FilingPeriod) bool {
	return !p.PeriodTo.Before(o.PeriodFrom) && !o.PeriodTo.Before(p.PeriodFrom)
}

// FilingPeriodPatch частично обновляет период (только даты и статус).
type FilingPeriodPatch struct {
	PeriodFrom *civil.Date   `json:"period_from,omitempty"`
	PeriodTo   *civil.Date   `json:"period_to,omitempty"`
	DueDate    *civil.Date   `json:"due_date,omitempty"`
	Status     *PeriodStatus `json:"status,omitempty"`
}

func (pt FilingPeriodPatch) Empty() bool {
	return pt.PeriodFrom == nil && pt.PeriodTo == nil && pt.DueDate == nil && pt.Status == nil
}

// Apply возвращает копию периода с применённым патчем и проверенными инвариантами.
func (pt FilingPeriodPatch) Apply(p FilingPeriod) (FilingPeriod, error) {
	if pt.PeriodFrom != nil {
		p.PeriodFrom = *pt.PeriodFrom
	}
	if pt.PeriodTo != nil {
		p.PeriodTo = *pt.PeriodTo
	}
	if pt.DueDate != nil {
		p.DueDate = *pt.DueDate
	}
	if pt.Status != nil {
		if !pt.Status.Valid() {
			return p, apperr.Validation("unknown period status %q", *pt.Status)
		}
		p.Status = *pt.Status
	}
	return p, p.Validate()
}

// DuePeriod: период с подписями клиента и типа для напоминаний.
type DuePeriod struct {
	Period       FilingPeriod
	CustomerName string
	CtTypeName   string
}

package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Spok95/ct-filing/internal/apperr"
)

type StepStatus string

const (
	StepDraft     StepStatus = "draft"
	StepCompleted StepStatus = "completed"
	StepSubmitted StepStatus = "submitted"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepDraft, StepCompleted, StepSubmitted:
		return true
	}
	return false
}

// CanMoveTo сообщает, можно ли перезаписать шаг в статусе cur записью со статусом next.
// submitted мягко-терминальный, из него можно только пересохранить submitted.
func (cur StepStatus) CanMoveTo(next StepStatus) bool {
	if cur == StepSubmitted {
		return next == StepSubmitted
	}
	return true
}

// WorkflowStepRecord хранит данные шага. Натуральный ключ (PeriodID, CtTypeID, StepNumber).
type WorkflowStepRecord struct {
	CustomerID int64           `db:"customer_id" json:"customer_id"`
	CtTypeID   int64           `db:"ct_type_id" json:"ct_type_id"`
	PeriodID   int64           `db:"period_id" json:"period_id"`
	StepNumber int             `db:"step_number" json:"step_number"`
	StepKey    string          `db:"step_key" json:"step_key"`
	Data       json.RawMessage `db:"data" json:"data"`
	Status     StepStatus      `db:"status" json:"status"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Normalize проверяет запись перед upsert и подставляет "{}" вместо пустых данных.
func (r WorkflowStepRecord) Normalize() (WorkflowStepRecord, error) {
	if r.PeriodID <= 0 || r.CtTypeID <= 0 || r.CustomerID <= 0 {
		return r, apperr.Validation("customer_id, ct_type_id and period_id are required")
	}
	if r.StepNumber < 1 {
		return r, apperr.Validation("step_number must be >= 1, got %d", r.StepNumber)
	}
	if r.StepKey == "" {
		return r, apperr.Validation("step_key is required")
	}
	if r.Status == "" {
		r.Status = StepDraft
	}
	if !r.Status.Valid() {
		return r, apperr.Validation("unknown step status %q", r.Status)
	}
	if len(bytes.TrimSpace(r.Data)) == 0 {
		r.Data = json.RawMessage(`{}`)
	}
	if !json.Valid(r.Data) {
		return r, apperr.Validation("step %d data is not valid JSON", r.StepNumber)
	}
	return r, nil
}

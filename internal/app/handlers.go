package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/apperr"
	"github.com/Spok95/ct-filing/internal/ctxutil"
	"github.com/Spok95/ct-filing/internal/filing"
	"github.com/Spok95/ct-filing/internal/models"
)

// Engine: операции движка, которые публикует HTTP.
type Engine interface {
	ListCtTypes(ctx context.Context) ([]models.CtType, error)
	ResolveCtType(ctx context.Context, slug string) (models.CtType, error)
	RenameCtType(ctx context.Context, id int64, name string) (models.CtType, error)

	ListFilingPeriods(ctx context.Context, customerID, ctTypeID int64) ([]models.FilingPeriod, error)
	ProposeNextPeriod(ctx context.Context, customerID, ctTypeID int64) (filing.Proposal, error)
	CreateFilingPeriod(ctx context.Context, p models.FilingPeriod) (models.FilingPeriod, error)
	GetFilingPeriod(ctx context.Context, id int64) (models.FilingPeriod, error)
	UpdateFilingPeriod(ctx context.Context, id int64, patch models.FilingPeriodPatch) (models.FilingPeriod, error)
	DeleteFilingPeriod(ctx context.Context, id int64) error
	ExportPeriodRegister(ctx context.Context, customerID, ctTypeID int64) (filing.Artifact, error)

	ListConversionAttempts(ctx context.Context, periodID, ctTypeID int64) ([]models.ConversionAttempt, error)
	CreateConversionAttempt(ctx context.Context, periodID, ctTypeID int64, userID string) (models.ConversionAttempt, error)
	UpdateConversionAttemptStatus(ctx context.Context, id int64, status models.ConversionStatus) (models.ConversionAttempt, error)
	DeleteConversionAttempt(ctx context.Context, id int64) error

	UpsertWorkflowStep(ctx context.Context, r models.WorkflowStepRecord) (models.WorkflowStepRecord, error)
	ListWorkflowSteps(ctx context.Context, periodID, ctTypeID int64) ([]models.WorkflowStepRecord, error)
	ExportWorkflow(ctx context.Context, periodID, ctTypeID int64) (filing.Artifact, error)
}

type handlers struct {
	svc Engine
	log *zap.Logger
}

// op подписывает контекст именем операции для логов движка.
func op(r *http.Request, name string) context.Context {
	return ctxutil.WithOp(r.Context(), name)
}

// ctType резолвит {slug} маршрута.
func (h *handlers) ctType(r *http.Request) (models.CtType, error) {
	return h.svc.ResolveCtType(r.Context(), chi.URLParam(r, "slug"))
}

func (h *handlers) listCtTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.ListCtTypes(op(r, "ct_types.list"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (h *handlers) resolveCtType(w http.ResponseWriter, r *http.Request) {
	t, err := h.ctType(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *handlers) renameCtType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == "" {
		h.writeError(w, r, apperr.Validation("name is required"))
		return
	}
	t, err := h.svc.RenameCtType(op(r, "ct_types.rename"), id, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// customerScope: {customerID} и {slug} маршрутов периодов клиента.
func (h *handlers) customerScope(r *http.Request) (int64, models.CtType, error) {
	customerID, err := pathID(r, "customerID")
	if err != nil {
		return 0, models.CtType{}, err
	}
	t, err := h.ctType(r)
	return customerID, t, err
}

func (h *handlers) listPeriods(w http.ResponseWriter, r *http.Request) {
	customerID, t, err := h.customerScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.ListFilingPeriods(op(r, "periods.list"), customerID, t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) proposeNextPeriod(w http.ResponseWriter, r *http.Request) {
	customerID, t, err := h.customerScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.ProposeNextPeriod(op(r, "periods.propose"), customerID, t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createPeriodRequest struct {
	PeriodFrom civil.Date          `json:"period_from"`
	PeriodTo   civil.Date          `json:"period_to"`
	DueDate    civil.Date          `json:"due_date"`
	Status     models.PeriodStatus `json:"status,omitempty"`
}

func (h *handlers) createPeriod(w http.ResponseWriter, r *http.Request) {
	customerID, t, err := h.customerScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req createPeriodRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.CreateFilingPeriod(op(r, "periods.create"), models.FilingPeriod{
		CustomerID: customerID,
		CtTypeID:   t.ID,
		PeriodFrom: req.PeriodFrom,
		PeriodTo:   req.PeriodTo,
		DueDate:    req.DueDate,
		Status:     req.Status,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) exportPeriodRegister(w http.ResponseWriter, r *http.Request) {
	customerID, t, err := h.customerScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.svc.ExportPeriodRegister(op(r, "periods.export"), customerID, t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeArtifact(w, a)
}

func (h *handlers) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "periodID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.GetFilingPeriod(op(r, "periods.get"), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) updatePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "periodID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch models.FilingPeriodPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	if patch.Empty() {
		h.writeError(w, r, apperr.Validation("nothing to update"))
		return
	}
	p, err := h.svc.UpdateFilingPeriod(op(r, "periods.update"), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) deletePeriod(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "periodID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteFilingPeriod(op(r, "periods.delete"), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// periodScope: {periodID} и {slug} маршрутов попыток и шагов.
func (h *handlers) periodScope(r *http.Request) (int64, models.CtType, error) {
	periodID, err := pathID(r, "periodID")
	if err != nil {
		return 0, models.CtType{}, err
	}
	t, err := h.ctType(r)
	return periodID, t, err
}

func (h *handlers) listConversions(w http.ResponseWriter, r *http.Request) {
	periodID, t, err := h.periodScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.ListConversionAttempts(op(r, "conversions.list"), periodID, t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) createConversion(w http.ResponseWriter, r *http.Request) {
	periodID, t, err := h.periodScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// владелец попытки: пользователь из токена
	c, err := h.svc.CreateConversionAttempt(op(r, "conversions.create"), periodID, t.ID, "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type conversionStatusRequest struct {
	Status models.ConversionStatus `json:"status"`
}

func (h *handlers) updateConversion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "conversionID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req conversionStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.UpdateConversionAttemptStatus(op(r, "conversions.update"), id, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *handlers) deleteConversion(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "conversionID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteConversionAttempt(op(r, "conversions.delete"), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listSteps(w http.ResponseWriter, r *http.Request) {
	periodID, t, err := h.periodScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.ListWorkflowSteps(op(r, "steps.list"), periodID, t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type stepRequest struct {
	CustomerID int64             `json:"customer_id,omitempty"`
	StepKey    string            `json:"step_key"`
	Data       json.RawMessage   `json:"data"`
	Status     models.StepStatus `json:"status"`
}

func (h *handlers) putStep(w http.ResponseWriter, r *http.Request) {
	periodID, t, err := h.periodScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		h.writeError(w, r, apperr.Validation("bad step number %q", chi.URLParam(r, "step")))
		return
	}
	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := h.svc.UpsertWorkflowStep(op(r, "steps.upsert"), models.WorkflowStepRecord{
		CustomerID: req.CustomerID,
		CtTypeID:   t.ID,
		PeriodID:   periodID,
		StepNumber: step,
		StepKey:    req.StepKey,
		Data:       req.Data,
		Status:     req.Status,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) exportWorkflow(w http.ResponseWriter, r *http.Request) {
	periodID, t, err := h.periodScope(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.svc.ExportWorkflow(op(r, "steps.export"), periodID, t.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeArtifact(w, a)
}

func writeArtifact(w http.ResponseWriter, a filing.Artifact) {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Body)
}

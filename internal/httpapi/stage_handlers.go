package httpapi

import (
	"errors"
	"net/http"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/workflow"
)

func (a *API) createStage(w http.ResponseWriter, r *http.Request) {
	var in workflow.CreateStageInput
	if err := a.bind(r, &in); err != nil {
		writeFailure(w, r, "stage.create", err)
		return
	}
	st, err := a.deps.Stages.CreateStage(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "stage.create", err)
		return
	}
	writeSuccess(w, http.StatusCreated, st)
}

func (a *API) getStages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := workflow.GetStagesInput{
		CaseID: q.Get("case_id"),
		Estado: workflow.Estado(q.Get("estado")),
	}
	var err error
	if in.Desde, err = queryTime(r, "desde"); err != nil {
		writeFailure(w, r, "stage.list", err)
		return
	}
	if in.Hasta, err = queryTime(r, "hasta"); err != nil {
		writeFailure(w, r, "stage.list", err)
		return
	}
	if in.Page, err = queryInt(r, "page", 1); err != nil {
		writeFailure(w, r, "stage.list", err)
		return
	}
	if in.PageSize, err = queryInt(r, "page_size", 20); err != nil {
		writeFailure(w, r, "stage.list", err)
		return
	}
	if err := a.check(in); err != nil {
		writeFailure(w, r, "stage.list", err)
		return
	}
	page, err := a.deps.Stages.GetStages(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "stage.list", err)
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

func (a *API) updateStage(w http.ResponseWriter, r *http.Request) {
	var in workflow.UpdateStageInput
	if err := a.bind(r, &in); err != nil {
		writeFailure(w, r, "stage.update", err)
		return
	}
	st, err := a.deps.Stages.UpdateStage(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, "stage.update", err)
		return
	}
	writeSuccess(w, http.StatusOK, st)
}

func (a *API) completeStage(w http.ResponseWriter, r *http.Request) {
	var in workflow.CompleteStageInput
	// the body is optional
	if err := decodeJSON(r, &in); err != nil && !isEmptyBody(err) {
		writeFailure(w, r, "stage.complete", err)
		return
	}
	out, err := a.deps.Stages.CompleteStage(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeFailure(w, r, "stage.complete", err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

func (a *API) deleteStage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.deps.Stages.DeleteStage(r.Context(), id); err != nil {
		writeFailure(w, r, "stage.delete", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"id": id})
}

func isEmptyBody(err error) bool {
	return errors.Is(err, apperr.ErrInvalidInput) && errors.Is(err, errEmptyBody)
}

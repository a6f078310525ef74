package httpapi

import (
	"net/http"

	"lexflow.io/internal/cases"
)

type linkClientRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

func (a *API) createCase(w http.ResponseWriter, r *http.Request) {
	var in cases.CreateCaseInput
	if err := a.bind(r, &in); err != nil {
		writeFailure(w, r, "case.create", err)
		return
	}
	c, err := a.deps.Cases.CreateCase(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "case.create", err)
		return
	}
	w.Header().Set("Location", "/v1/cases/"+c.ID)
	writeSuccess(w, http.StatusCreated, c)
}

func (a *API) listCases(w http.ResponseWriter, r *http.Request) {
	f := cases.Filter{Estado: cases.Estado(r.URL.Query().Get("estado"))}
	var err error
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeFailure(w, r, "case.list", err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeFailure(w, r, "case.list", err)
		return
	}
	out, err := a.deps.Cases.List(r.Context(), f)
	if err != nil {
		writeFailure(w, r, "case.list", err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

func (a *API) searchCases(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeFailure(w, r, "case.search", err)
		return
	}
	out, err := a.deps.Cases.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeFailure(w, r, "case.search", err)
		return
	}
	writeSuccess(w, http.StatusOK, out)
}

func (a *API) getCase(w http.ResponseWriter, r *http.Request) {
	c, err := a.deps.Cases.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "case.get", err)
		return
	}
	writeSuccess(w, http.StatusOK, c)
}

func (a *API) archiveCase(w http.ResponseWriter, r *http.Request) {
	c, err := a.deps.Cases.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "case.archive", err)
		return
	}
	writeSuccess(w, http.StatusOK, c)
}

func (a *API) linkClient(w http.ResponseWriter, r *http.Request) {
	var req linkClientRequest
	if err := a.bind(r, &req); err != nil {
		writeFailure(w, r, "case.link_client", err)
		return
	}
	caseID := r.PathValue("id")
	if err := a.deps.Cases.LinkClient(r.Context(), caseID, req.ClientID); err != nil {
		writeFailure(w, r, "case.link_client", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"case_id": caseID, "client_id": req.ClientID})
}

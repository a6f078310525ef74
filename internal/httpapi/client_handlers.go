package httpapi

import (
	"net/http"

	"lexflow.io/internal/clients"
)

func (a *API) createClient(w http.ResponseWriter, r *http.Request) {
	var in clients.CreateClientInput
	if err := a.bind(r, &in); err != nil {
		writeFailure(w, r, "client.create", err)
		return
	}
	p, err := a.deps.Clients.CreateClientProfile(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "client.create", err)
		return
	}
	writeSuccess(w, http.StatusCreated, p)
}

func (a *API) listClients(w http.ResponseWriter, r *http.Request) {
	in := clients.ListInput{Query: r.URL.Query().Get("q")}
	var err error
	if in.Page, err = queryInt(r, "page", 1); err != nil {
		writeFailure(w, r, "client.list", err)
		return
	}
	if in.PageSize, err = queryInt(r, "page_size", 20); err != nil {
		writeFailure(w, r, "client.list", err)
		return
	}
	if err := a.check(in); err != nil {
		writeFailure(w, r, "client.list", err)
		return
	}
	page, err := a.deps.Clients.ListClients(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "client.list", err)
		return
	}
	writeSuccess(w, http.StatusOK, page)
}

package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/casefile"
)

const (
	maxUploadBytes  = 25 << 20
	uploadMemory    = 8 << 20
	uploadFileField = "file"
)

func (a *API) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeFailure(w, r, "document.upload", fmt.Errorf("%w: file exceeds %d bytes", apperr.ErrInvalidInput, maxUploadBytes))
			return
		}
		writeFailure(w, r, "document.upload", fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile(uploadFileField)
	if err != nil {
		writeFailure(w, r, "document.upload", fmt.Errorf("%w: multipart field %q is required", apperr.ErrInvalidInput, uploadFileField))
		return
	}
	defer file.Close()

	doc, err := a.deps.Files.UploadDocument(r.Context(), casefile.UploadInput{
		CaseID:      r.PathValue("id"),
		Nombre:      header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Visibilidad: casefile.DocumentVisibility(r.FormValue("visibilidad")),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeFailure(w, r, "document.upload", err)
		return
	}
	writeSuccess(w, http.StatusCreated, doc)
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.deps.Files.ListDocuments(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "document.list", err)
		return
	}
	writeSuccess(w, http.StatusOK, docs)
}

func (a *API) downloadDocument(w http.ResponseWriter, r *http.Request) {
	url, err := a.deps.Files.DownloadURL(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "document.download", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"url": url})
}

func (a *API) addNote(w http.ResponseWriter, r *http.Request) {
	var in casefile.AddNoteInput
	if err := a.bind(r, &in); err != nil {
		writeFailure(w, r, "note.add", err)
		return
	}
	n, err := a.deps.Files.AddNote(r.Context(), in)
	if err != nil {
		writeFailure(w, r, "note.add", err)
		return
	}
	writeSuccess(w, http.StatusCreated, n)
}

func (a *API) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := a.deps.Files.ListNotes(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, r, "note.list", err)
		return
	}
	writeSuccess(w, http.StatusOK, notes)
}

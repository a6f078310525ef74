package casefile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexflow.io/internal/apperr"
	"lexflow.io/internal/audit"
	"lexflow.io/internal/auth"
	"lexflow.io/internal/blob"
	"lexflow.io/internal/cases"
	"lexflow.io/internal/ids"
	"lexflow.io/internal/notify"
	"lexflow.io/internal/obs"
)

// CaseAccess answers case visibility for a caller.
type CaseAccess interface {
	Check(ctx context.Context, orgID string, caller auth.Profile, caseID string) (cases.Case, error)
}

// Service manages the documents and notes attached to a case.
type Service struct {
	store  Store
	blobs  Blobs
	access CaseAccess
	guard  *audit.Guard
	events notify.Publisher
	now    func() time.Time
}

// NewService wires the case file service. blobs may be nil, in which case
// uploads and downloads report ErrUnavailable.
func NewService(store Store, blobs Blobs, access CaseAccess, guard *audit.Guard, events notify.Publisher) *Service {
	if events == nil {
		events = notify.Noop{}
	}
	return &Service{store: store, blobs: blobs, access: access, guard: guard, events: events, now: time.Now}
}

// UploadDocument stores the blob first and then its metadata. The blob is
// removed again if the metadata insert fails. Clients may only upload
// documents visible to clients.
func (s *Service) UploadDocument(ctx context.Context, in UploadInput) (Document, error) {
	if s.blobs == nil {
		return Document{}, fmt.Errorf("%w: document storage is not configured", apperr.ErrUnavailable)
	}
	if strings.TrimSpace(in.Nombre) == "" || in.Body == nil {
		return Document{}, fmt.Errorf("%w: a file is required", apperr.ErrInvalidInput)
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Document{}, err
	}
	var created Document
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "document.upload",
		EntityType: "document",
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		if _, err := s.access.Check(ctx, orgID, caller, in.CaseID); err != nil {
			return audit.Record{}, err
		}
		vis := in.Visibilidad
		switch {
		case vis == "" && caller.Role == auth.RoleCliente:
			vis = DocCliente
		case vis == "":
			vis = DocPrivado
		case vis != DocPrivado && vis != DocCliente:
			return audit.Record{}, fmt.Errorf("%w: unknown visibilidad %q", apperr.ErrInvalidInput, vis)
		case vis == DocPrivado && caller.Role == auth.RoleCliente:
			return audit.Record{}, fmt.Errorf("%w: clients can only upload shared documents", apperr.ErrForbidden)
		}

		id := ids.New()
		key := blob.ObjectKey(orgID, in.CaseID, id, in.Nombre)
		if err := s.blobs.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
			return audit.Record{}, err
		}
		doc, err := s.store.InsertDocument(ctx, Document{
			ID:          id,
			OrgID:       orgID,
			CaseID:      in.CaseID,
			Nombre:      strings.TrimSpace(in.Nombre),
			ContentType: in.ContentType,
			Size:        in.Size,
			StorageKey:  key,
			Visibilidad: vis,
			UploadedBy:  caller.ID,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			if rerr := s.blobs.Remove(context.WithoutCancel(ctx), key); rerr != nil {
				obs.Error("remove orphan blob failed", rerr, map[string]any{"key": key})
			}
			return audit.Record{}, err
		}
		created = doc
		if err := s.events.Publish(ctx, notify.Event{
			Type:     notify.EventDocumentUploaded,
			OrgID:    orgID,
			CaseID:   doc.CaseID,
			EntityID: doc.ID,
			ActorID:  caller.ID,
			At:       doc.CreatedAt,
			Data:     map[string]any{"nombre": doc.Nombre, "visibilidad": string(doc.Visibilidad)},
		}); err != nil {
			obs.Warn("publish event failed", map[string]any{"type": notify.EventDocumentUploaded, "error": err.Error()})
		}
		return audit.Record{
			EntityID: doc.ID,
			Diff:     map[string]any{"case_id": doc.CaseID, "nombre": doc.Nombre, "visibilidad": string(doc.Visibilidad), "size": doc.Size},
		}, nil
	})
	if err != nil {
		return Document{}, err
	}
	return created, nil
}

func (s *Service) ListDocuments(ctx context.Context, caseID string) ([]Document, error) {
	caller, orgID, err := s.reader(ctx, caseID)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, orgID, caseID, caller.Role == auth.RoleCliente)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// DownloadURL returns a presigned link for a document the caller may read.
func (s *Service) DownloadURL(ctx context.Context, docID string) (string, error) {
	if s.blobs == nil {
		return "", fmt.Errorf("%w: document storage is not configured", apperr.ErrUnavailable)
	}
	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return "", err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return "", err
	}
	doc, err := s.store.GetDocument(ctx, orgID, docID)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", apperr.ErrForbidden
	}
	if err != nil {
		return "", err
	}
	if _, err := s.access.Check(ctx, orgID, caller, doc.CaseID); err != nil {
		return "", err
	}
	if caller.Role == auth.RoleCliente && doc.Visibilidad != DocCliente {
		return "", apperr.ErrForbidden
	}
	return s.blobs.PresignGet(ctx, doc.StorageKey, doc.Nombre)
}

// AddNote attaches a note to a case. Notes are private unless marked publica.
func (s *Service) AddNote(ctx context.Context, in AddNoteInput) (Note, error) {
	if strings.TrimSpace(in.Contenido) == "" {
		return Note{}, fmt.Errorf("%w: contenido is required", apperr.ErrInvalidInput)
	}
	vis := in.Visibilidad
	if vis == "" {
		vis = NotePrivada
	}
	if vis != NotePrivada && vis != NotePublica {
		return Note{}, fmt.Errorf("%w: unknown visibilidad %q", apperr.ErrInvalidInput, vis)
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return Note{}, err
	}
	var created Note
	err = s.guard.Run(ctx, audit.Mutation{
		Action:     "note.create",
		EntityType: "note",
		Roles:      []auth.Role{auth.RoleAdminFirma, auth.RoleAbogado, auth.RoleAnalista},
	}, func(ctx context.Context, caller auth.Profile) (audit.Record, error) {
		if _, err := s.access.Check(ctx, orgID, caller, in.CaseID); err != nil {
			return audit.Record{}, err
		}
		n, err := s.store.InsertNote(ctx, Note{
			ID:          ids.New(),
			OrgID:       orgID,
			CaseID:      in.CaseID,
			Contenido:   strings.TrimSpace(in.Contenido),
			Visibilidad: vis,
			AuthorID:    caller.ID,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			return audit.Record{}, err
		}
		created = n
		return audit.Record{EntityID: n.ID, Diff: map[string]any{"case_id": n.CaseID, "visibilidad": string(n.Visibilidad)}}, nil
	})
	if err != nil {
		return Note{}, err
	}
	return created, nil
}

func (s *Service) ListNotes(ctx context.Context, caseID string) ([]Note, error) {
	caller, orgID, err := s.reader(ctx, caseID)
	if err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, orgID, caseID, caller.Role == auth.RoleCliente)
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []Note{}
	}
	return notes, nil
}

func (s *Service) reader(ctx context.Context, caseID string) (auth.Profile, string, error) {
	caller, err := s.guard.RequireAuth(ctx)
	if err != nil {
		return auth.Profile{}, "", err
	}
	orgID, err := auth.ActiveOrg(ctx)
	if err != nil {
		return auth.Profile{}, "", err
	}
	if _, err := s.access.Check(ctx, orgID, caller, caseID); err != nil {
		return auth.Profile{}, "", err
	}
	return caller, orgID, nil
}

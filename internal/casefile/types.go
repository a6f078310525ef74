package casefile

import (
	"context"
	"io"
	"time"
)

type DocumentVisibility string

const (
	DocPrivado DocumentVisibility = "privado"
	DocCliente DocumentVisibility = "cliente"
)

type NoteVisibility string

const (
	NotePrivada NoteVisibility = "privada"
	NotePublica NoteVisibility = "publica"
)

type Document struct {
	ID          string             `json:"id"`
	OrgID       string             `json:"org_id"`
	CaseID      string             `json:"case_id"`
	Nombre      string             `json:"nombre"`
	ContentType string             `json:"content_type"`
	Size        int64              `json:"size"`
	StorageKey  string             `json:"-"`
	Visibilidad DocumentVisibility `json:"visibilidad"`
	UploadedBy  string             `json:"uploaded_by"`
	CreatedAt   time.Time          `json:"created_at"`
}

type Note struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	CaseID      string         `json:"case_id"`
	Contenido   string         `json:"contenido"`
	Visibilidad NoteVisibility `json:"visibilidad"`
	AuthorID    string         `json:"author_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

type UploadInput struct {
	CaseID      string
	Nombre      string
	ContentType string
	Visibilidad DocumentVisibility
	Size        int64
	Body        io.Reader
}

type AddNoteInput struct {
	CaseID      string         `json:"case_id" validate:"required"`
	Contenido   string         `json:"contenido" validate:"required,max=10000"`
	Visibilidad NoteVisibility `json:"visibilidad" validate:"omitempty,oneof=privada publica"`
}

// Store persists document metadata and notes, scoped by orgID.
type Store interface {
	InsertDocument(ctx context.Context, d Document) (Document, error)
	GetDocument(ctx context.Context, orgID, id string) (Document, error)
	ListDocuments(ctx context.Context, orgID, caseID string, onlyClient bool) ([]Document, error)
	InsertNote(ctx context.Context, n Note) (Note, error)
	ListNotes(ctx context.Context, orgID, caseID string, onlyPublic bool) ([]Note, error)
}

// Blobs stores document contents.
type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key, filename string) (string, error)
}

package pg

import (
	"context"

	"lexflow.io/internal/casefile"
)

var _ casefile.Store = (*Store)(nil)

const documentColumns = `id, org_id, case_id, nombre, content_type, size, storage_key, visibilidad, uploaded_by, created_at`

func scanDocument(row scanner) (casefile.Document, error) {
	var (
		d   casefile.Document
		vis string
	)
	if err := row.Scan(&d.ID, &d.OrgID, &d.CaseID, &d.Nombre, &d.ContentType, &d.Size, &d.StorageKey, &vis,
		&d.UploadedBy, &d.CreatedAt); err != nil {
		return casefile.Document{}, err
	}
	d.Visibilidad = casefile.DocumentVisibility(vis)
	return d, nil
}

func (s *Store) InsertDocument(ctx context.Context, d casefile.Document) (casefile.Document, error) {
	out, err := scanDocument(s.db.QueryRowContext(ctx, `
		insert into documents (id, org_id, case_id, nombre, content_type, size, storage_key, visibilidad, uploaded_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+documentColumns,
		d.ID, d.OrgID, d.CaseID, d.Nombre, d.ContentType, d.Size, d.StorageKey, string(d.Visibilidad), d.UploadedBy, d.CreatedAt))
	if err != nil {
		return casefile.Document{}, mapError(err)
	}
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, orgID, id string) (casefile.Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where org_id = $1 and id = $2`, orgID, id))
	if err != nil {
		return casefile.Document{}, mapError(err)
	}
	return d, nil
}

// ListDocuments returns newest first. onlyClient restricts to documents
// shared with the client.
func (s *Store) ListDocuments(ctx context.Context, orgID, caseID string, onlyClient bool) ([]casefile.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+documentColumns+`
		from documents
		where org_id = $1 and case_id = $2 and (not $3 or visibilidad = 'cliente')
		order by created_at desc, id desc`, orgID, caseID, onlyClient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []casefile.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const noteColumns = `id, org_id, case_id, contenido, visibilidad, author_id, created_at`

func scanNote(row scanner) (casefile.Note, error) {
	var (
		n   casefile.Note
		vis string
	)
	if err := row.Scan(&n.ID, &n.OrgID, &n.CaseID, &n.Contenido, &vis, &n.AuthorID, &n.CreatedAt); err != nil {
		return casefile.Note{}, err
	}
	n.Visibilidad = casefile.NoteVisibility(vis)
	return n, nil
}

func (s *Store) InsertNote(ctx context.Context, n casefile.Note) (casefile.Note, error) {
	out, err := scanNote(s.db.QueryRowContext(ctx, `
		insert into notes (id, org_id, case_id, contenido, visibilidad, author_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+noteColumns,
		n.ID, n.OrgID, n.CaseID, n.Contenido, string(n.Visibilidad), n.AuthorID, n.CreatedAt))
	if err != nil {
		return casefile.Note{}, mapError(err)
	}
	return out, nil
}

func (s *Store) ListNotes(ctx context.Context, orgID, caseID string, onlyPublic bool) ([]casefile.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+noteColumns+`
		from notes
		where org_id = $1 and case_id = $2 and (not $3 or visibilidad = 'publica')
		order by created_at desc, id desc`, orgID, caseID, onlyPublic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []casefile.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

package repo

import (
	"context"

	"projectops/internal/db"
	"projectops/internal/domain"
)

const documentColumns = `id,project_id,file_name,storage_key,description,size_bytes,mime_type,amount,tax,document_date,uploaded_at`

func scanDocument(s scanner) (domain.Document, error) {
	var d domain.Document
	err := s.Scan(&d.ID, &d.ProjectID, &d.FileName, &d.StorageKey, &d.Description, &d.SizeBytes, &d.MimeType,
		&d.Amount, &d.Tax, &d.DocumentDate, &d.UploadedAt)
	return d, err
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	ProjectID int64
	Search    string
}

func (r Repo) InsertDocument(ctx context.Context, q db.DBTX, d domain.Document) (int64, error) {
	return lastID(r.q(q).ExecContext(ctx, `INSERT INTO documents(project_id,file_name,storage_key,description,size_bytes,mime_type,amount,tax,document_date,uploaded_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		d.ProjectID, d.FileName, d.StorageKey, d.Description, d.SizeBytes, d.MimeType, d.Amount, d.Tax, d.DocumentDate, d.UploadedAt))
}

// UpdateDocumentMeta rewrites the descriptive fields; the stored object is untouched.
func (r Repo) UpdateDocumentMeta(ctx context.Context, q db.DBTX, d domain.Document) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE documents SET file_name=?,description=?,amount=?,tax=?,document_date=? WHERE id=?`,
		d.FileName, d.Description, d.Amount, d.Tax, d.DocumentDate, d.ID)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) DeleteDocument(ctx context.Context, q db.DBTX, id int64) error {
	return deleteByID(ctx, r.q(q), "documents", id)
}

func (r Repo) GetDocument(ctx context.Context, q db.DBTX, id int64) (domain.Document, error) {
	d, err := scanDocument(r.q(q).QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=?`, id))
	return d, notFoundOr(err, "get document")
}

func (r Repo) ListDocuments(ctx context.Context, q db.DBTX, f DocumentFilter) ([]domain.Document, error) {
	var w where
	if f.ProjectID != 0 {
		w.add("project_id=?", f.ProjectID)
	}
	if f.Search != "" {
		w.add("(LOWER(file_name) LIKE ? OR LOWER(COALESCE(description,'')) LIKE ?)", likePattern(f.Search), likePattern(f.Search))
	}
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+documentColumns+` FROM documents`+w.sql()+` ORDER BY uploaded_at DESC, id DESC`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDocumentsByProject(ctx context.Context, q db.DBTX, projectID int64) (int, error) {
	return count(ctx, r.q(q), `SELECT COUNT(*) FROM documents WHERE project_id=?`, projectID)
}

// DocumentKeysByProject lists storage keys so blobs can be removed after a cascade.
func (r Repo) DocumentKeysByProject(ctx context.Context, q db.DBTX, projectID int64) ([]string, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT storage_key FROM documents WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

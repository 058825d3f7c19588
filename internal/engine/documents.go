package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"projectops/internal/db"
	"projectops/internal/domain"
	"projectops/internal/engine/auth"
	"projectops/internal/events"
	"projectops/internal/repo"
	"projectops/internal/storage"
)

// ErrNoBlobStore is returned by document operations when no store is wired.
var ErrNoBlobStore = errors.New("document storage is not configured")

type DocumentInput struct {
	ProjectID    int64               `json:"project_id" validate:"required,gt=0"`
	FileName     string              `json:"file_name" validate:"required,max=255"`
	Description  *string             `json:"description,omitempty" validate:"omitempty,max=2000"`
	MimeType     *string             `json:"mime_type,omitempty" validate:"omitempty,max=120"`
	Amount       decimal.NullDecimal `json:"amount"`
	Tax          decimal.NullDecimal `json:"tax"`
	DocumentDate *string             `json:"document_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func (in *DocumentInput) normalize() {
	in.FileName = filepath.Base(strings.TrimSpace(in.FileName))
	if in.FileName == "." || in.FileName == "/" {
		in.FileName = ""
	}
	in.Description = trimPtr(in.Description)
	in.MimeType = trimPtr(in.MimeType)
	in.DocumentDate = trimPtr(in.DocumentDate)
}

// UploadDocument stores the content under a fresh key and records the row.
// If the row cannot be written the stored object is removed again.
func (e Engine) UploadDocument(ctx context.Context, actor auth.Principal, in DocumentInput, content io.Reader, size int64) (domain.Document, error) {
	if e.Blobs == nil {
		return domain.Document{}, ErrNoBlobStore
	}
	in.normalize()
	if err := validateInput(in); err != nil {
		return domain.Document{}, err
	}
	if ok, err := e.Repo.ProjectExists(ctx, nil, in.ProjectID); err != nil {
		return domain.Document{}, err
	} else if !ok {
		return domain.Document{}, NotFoundError{Entity: EntityProjects, ID: in.ProjectID}
	}
	key := fmt.Sprintf("projects/%d/%s%s", in.ProjectID, uuid.NewString(), strings.ToLower(filepath.Ext(in.FileName)))
	contentType := deref(in.MimeType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	counter := &countingReader{r: content}
	if err := e.Blobs.Put(ctx, key, counter, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store document: %w", err)
	}
	written := counter.n
	var out domain.Document
	err := e.withinTx(ctx, "document.upload", func(ctx context.Context, q db.DBTX) error {
		d := domain.Document{
			ProjectID:    in.ProjectID,
			FileName:     in.FileName,
			StorageKey:   key,
			Description:  in.Description,
			SizeBytes:    &written,
			MimeType:     &contentType,
			Amount:       in.Amount,
			Tax:          in.Tax,
			DocumentDate: in.DocumentDate,
			UploadedAt:   e.timestamp(),
		}
		id, err := e.Repo.InsertDocument(ctx, q, d)
		if err != nil {
			return mapStoreError(EntityDocuments, err)
		}
		if err := e.audit(ctx, q, actor, events.KindCreate, EntityDocuments, id, map[string]any{"project_id": d.ProjectID, "file_name": d.FileName, "size_bytes": written}); err != nil {
			return err
		}
		out, err = e.Repo.GetDocument(ctx, q, id)
		return err
	})
	if err != nil {
		e.removeBlobs(ctx, []string{key})
		return domain.Document{}, err
	}
	e.logMutation(ctx, "document.upload", EntityDocuments, out.ID, actor)
	return out, nil
}

func (e Engine) UpdateDocument(ctx context.Context, actor auth.Principal, id int64, in DocumentInput) (domain.Document, error) {
	in.normalize()
	if err := validateInput(in); err != nil {
		return domain.Document{}, err
	}
	var out domain.Document
	err := e.withinTx(ctx, "document.update", func(ctx context.Context, q db.DBTX) error {
		d, err := e.Repo.GetDocument(ctx, q, id)
		if err != nil {
			return notFound(EntityDocuments, id, err)
		}
		d.FileName = in.FileName
		d.Description = in.Description
		d.Amount = in.Amount
		d.Tax = in.Tax
		d.DocumentDate = in.DocumentDate
		if err := e.Repo.UpdateDocumentMeta(ctx, q, d); err != nil {
			return mapStoreError(EntityDocuments, err)
		}
		out = d
		return e.audit(ctx, q, actor, events.KindUpdate, EntityDocuments, id, map[string]any{"file_name": d.FileName})
	})
	if err != nil {
		return domain.Document{}, err
	}
	e.logMutation(ctx, "document.update", EntityDocuments, id, actor)
	return out, nil
}

// DeleteDocument removes the row, then the stored object. A failed object
// removal is logged and does not fail the call.
func (e Engine) DeleteDocument(ctx context.Context, actor auth.Principal, id int64) error {
	var key string
	err := e.withinTx(ctx, "document.delete", func(ctx context.Context, q db.DBTX) error {
		d, err := e.Repo.GetDocument(ctx, q, id)
		if err != nil {
			return notFound(EntityDocuments, id, err)
		}
		if err := e.Repo.DeleteDocument(ctx, q, id); err != nil {
			return err
		}
		key = d.StorageKey
		return e.audit(ctx, q, actor, events.KindDelete, EntityDocuments, id, map[string]any{"project_id": d.ProjectID, "file_name": d.FileName})
	})
	if err != nil {
		return err
	}
	e.removeBlobs(ctx, []string{key})
	e.logMutation(ctx, "document.delete", EntityDocuments, id, actor)
	return nil
}

func (e Engine) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, nil, id)
	return d, notFound(EntityDocuments, id, err)
}

// OpenDocument returns the row and a reader over its content. The caller
// closes the reader.
func (e Engine) OpenDocument(ctx context.Context, id int64) (domain.Document, io.ReadCloser, error) {
	if e.Blobs == nil {
		return domain.Document{}, nil, ErrNoBlobStore
	}
	d, err := e.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, nil, err
	}
	rc, err := e.Blobs.Open(ctx, d.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return domain.Document{}, nil, InvalidStateError{Entity: EntityDocuments, ID: id, Reason: "stored content is missing"}
	}
	if err != nil {
		return domain.Document{}, nil, err
	}
	return d, rc, nil
}

func (e Engine) ListDocuments(ctx context.Context, f repo.DocumentFilter) ([]domain.Document, error) {
	return e.Repo.ListDocuments(ctx, nil, f)
}

func (e Engine) CountDocuments(ctx context.Context, projectID int64) (int, error) {
	return e.Repo.CountDocumentsByProject(ctx, nil, projectID)
}

func (e Engine) removeBlobs(ctx context.Context, keys []string) {
	if e.Blobs == nil {
		return
	}
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := e.Blobs.Remove(ctx, k); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			e.log(ctx).WithError(err).WithField("key", k).Warn("could not remove stored document")
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

package contracts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"clmhub.io/internal/blob"
	"clmhub.io/internal/ids"
	"clmhub.io/internal/obs"
	"clmhub.io/internal/stream"
)

// Bucket is the object storage bucket contract files live in.
const Bucket = "contracts"

// Document is the metadata row for an uploaded contract file.
type Document struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"company_id"`
	ContractID    string    `json:"contract_id"`
	VersionID     *string   `json:"version_id"`
	FileName      string    `json:"file_name"`
	StorageBucket string    `json:"storage_bucket"`
	StoragePath   string    `json:"storage_path"`
	FileType      *string   `json:"file_type"`
	FileSizeBytes *int64    `json:"file_size_bytes"`
	UploadedBy    string    `json:"uploaded_by,omitempty"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// DocumentStore persists document metadata.
type DocumentStore interface {
	Contract(ctx context.Context, companyID, id string) (Contract, error)
	InsertDocument(ctx context.Context, d Document) (Document, error)
	ListDocuments(ctx context.Context, companyID, contractID string) ([]Document, error)
}

// StoragePath is where a contract file is kept: {company}/contracts/{contract}/{file}.
func StoragePath(companyID, contractID, fileName string) string {
	return companyID + "/contracts/" + contractID + "/" + fileName
}

// UploadInput describes one file upload.
type UploadInput struct {
	CompanyID   string
	ContractID  string
	FileName    string
	ContentType string
	Body        io.Reader
	UploadedBy  string
}

// Documents manages contract files and their metadata rows.
type Documents struct {
	store  DocumentStore
	bucket blob.Bucket
	signer *blob.Signer
	events stream.Publisher
	now    func() time.Time
}

// NewDocuments wires the documents service.
func NewDocuments(store DocumentStore, bucket blob.Bucket, signer *blob.Signer, events stream.Publisher) *Documents {
	if events == nil {
		events = stream.Discard{}
	}
	return &Documents{store: store, bucket: bucket, signer: signer, events: events, now: time.Now}
}

func validFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// List returns the contract's documents, newest upload first.
func (d *Documents) List(ctx context.Context, companyID, contractID string) ([]Document, error) {
	companyID, contractID, err := requireScope(companyID, contractID)
	if err != nil {
		return nil, err
	}
	docs, err := d.store.ListDocuments(ctx, companyID, contractID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []Document{}
	}
	return docs, nil
}

// Upload stores the object, never replacing an existing one, then records its metadata.
// The object is removed again if the metadata row cannot be written.
func (d *Documents) Upload(ctx context.Context, in UploadInput) (Document, error) {
	companyID, contractID, err := requireScope(in.CompanyID, in.ContractID)
	if err != nil {
		return Document{}, err
	}
	name := strings.TrimSpace(in.FileName)
	if !validFileName(name) {
		return Document{}, fmt.Errorf("%w: invalid file name", ErrInvalidInput)
	}
	if in.Body == nil {
		return Document{}, fmt.Errorf("%w: file body is required", ErrInvalidInput)
	}
	if _, err := d.store.Contract(ctx, companyID, contractID); err != nil {
		return Document{}, err
	}

	path := StoragePath(companyID, contractID, name)
	size, err := d.bucket.Put(ctx, path, in.Body, in.ContentType)
	if errors.Is(err, blob.ErrExists) {
		return Document{}, fmt.Errorf("%w: %s", ErrConflict, path)
	}
	if err != nil {
		return Document{}, fmt.Errorf("upload %s: %w", path, err)
	}

	doc := Document{
		ID:            ids.New(),
		CompanyID:     companyID,
		ContractID:    contractID,
		FileName:      name,
		StorageBucket: d.bucket.Name(),
		StoragePath:   path,
		FileSizeBytes: &size,
		UploadedBy:    strings.TrimSpace(in.UploadedBy),
		UploadedAt:    d.now().UTC(),
	}
	if ct := strings.TrimSpace(in.ContentType); ct != "" {
		doc.FileType = &ct
	}
	saved, err := d.store.InsertDocument(ctx, doc)
	if err != nil {
		if derr := d.bucket.Delete(context.WithoutCancel(ctx), path); derr != nil {
			obs.Warn("document_orphan_cleanup_failed", map[string]any{"path": path, "error": derr})
		}
		return Document{}, err
	}
	d.events.Publish(stream.NewEvent(stream.TypeDocumentUploaded, companyID, contractID, map[string]any{"document_id": saved.ID, "file_name": name}))
	return saved, nil
}

// SignedDownloadURL returns a short lived URL for a file of the company. A zero expiry means 60s.
func (d *Documents) SignedDownloadURL(companyID, storagePath string, expiry time.Duration) (string, time.Time, error) {
	companyID = strings.TrimSpace(companyID)
	storagePath = strings.TrimSpace(storagePath)
	if companyID == "" || !strings.HasPrefix(storagePath, companyID+"/") {
		return "", time.Time{}, fmt.Errorf("%w: storage path outside company", ErrInvalidInput)
	}
	if d.signer == nil {
		return "", time.Time{}, errors.New("signed urls are not configured")
	}
	if expiry <= 0 {
		expiry = blob.DefaultExpiry
	}
	u, exp, err := d.signer.Sign(d.bucket.Name(), storagePath, expiry)
	if errors.Is(err, blob.ErrInvalidPath) {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return u, exp, err
}

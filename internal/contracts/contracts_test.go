package contracts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"clmhub.io/internal/audit"
	"clmhub.io/internal/blob"
)

type stubStore struct {
	listFn     func(context.Context, ListQuery) ([]Contract, int, error)
	contractFn func(context.Context, string, string) (Contract, error)
	appendFn   func(context.Context, string, Version) (Version, error)
	insertDoc  func(context.Context, Document) (Document, error)
}

func (s *stubStore) ListContracts(ctx context.Context, q ListQuery) ([]Contract, int, error) {
	if s.listFn != nil {
		return s.listFn(ctx, q)
	}
	return nil, 0, nil
}

func (s *stubStore) Contract(ctx context.Context, companyID, id string) (Contract, error) {
	if s.contractFn != nil {
		return s.contractFn(ctx, companyID, id)
	}
	return Contract{ID: id, CompanyID: companyID, Status: StatusDraft}, nil
}

func (s *stubStore) CreateContract(_ context.Context, c Contract) (Contract, error) { return c, nil }

func (s *stubStore) UpdateContractStatus(_ context.Context, companyID, id, status string) (Contract, error) {
	return Contract{ID: id, CompanyID: companyID, Status: status}, nil
}

func (s *stubStore) ListVersions(context.Context, string, string) ([]Version, error) { return nil, nil }

func (s *stubStore) AppendVersion(ctx context.Context, companyID string, v Version) (Version, error) {
	if s.appendFn != nil {
		return s.appendFn(ctx, companyID, v)
	}
	v.VersionNumber = 1
	return v, nil
}

func (s *stubStore) InsertDocument(ctx context.Context, d Document) (Document, error) {
	if s.insertDoc != nil {
		return s.insertDoc(ctx, d)
	}
	return d, nil
}

func (s *stubStore) ListDocuments(context.Context, string, string) ([]Document, error) {
	return nil, nil
}

type recordingEmitter struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingEmitter) Emit(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func TestBuildListQueryAlwaysScopesByCompany(t *testing.T) {
	cases := []struct {
		name   string
		params ListParams
		want   ListQuery
	}{
		{
			name:   "defaults",
			params: ListParams{CompanyID: "company-1"},
			want:   ListQuery{CompanyID: "company-1", Offset: 0, Limit: DefaultPageSize},
		},
		{
			name:   "all status is no filter",
			params: ListParams{CompanyID: "company-1", Page: 3, PageSize: 10, Status: "all"},
			want:   ListQuery{CompanyID: "company-1", Offset: 20, Limit: 10},
		},
		{
			name:   "status and search",
			params: ListParams{CompanyID: " company-1 ", Page: 2, Status: StatusActive, Search: "  acme "},
			want:   ListQuery{CompanyID: "company-1", Status: StatusActive, Search: "acme", Offset: 20, Limit: DefaultPageSize},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildListQuery(tc.params)
			if err != nil {
				t.Fatalf("BuildListQuery: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}

	if _, err := BuildListQuery(ListParams{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without company, got %v", err)
	}
	if _, err := BuildListQuery(ListParams{CompanyID: "c1", Status: "shredded"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown status, got %v", err)
	}
}

func TestListPassesCompanyToStore(t *testing.T) {
	var seen ListQuery
	svc := NewService(&stubStore{listFn: func(_ context.Context, q ListQuery) ([]Contract, int, error) {
		seen = q
		return nil, 0, nil
	}}, nil, nil)
	page, err := svc.List(context.Background(), ListParams{CompanyID: "company-1", Page: 1, PageSize: 20, Search: "x"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if seen.CompanyID != "company-1" {
		t.Fatalf("store query not scoped: %+v", seen)
	}
	if page.Contracts == nil {
		t.Fatal("expected empty slice, not nil")
	}
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	if got := LikePattern(`50%_off\`); got != `%50\%\_off\\%` {
		t.Fatalf("unexpected pattern %q", got)
	}
}

func TestStoragePath(t *testing.T) {
	if got := StoragePath("c1", "k1", "file.pdf"); got != "c1/contracts/k1/file.pdf" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestUpdateStatusValidates(t *testing.T) {
	svc := NewService(&stubStore{}, nil, nil)
	if _, err := svc.UpdateStatus(context.Background(), "c1", "k1", "burned"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	c, err := svc.UpdateStatus(context.Background(), "c1", "k1", StatusInReview)
	if err != nil || c.Status != StatusInReview {
		t.Fatalf("unexpected result %+v %v", c, err)
	}
}

func TestSaveNewVersionEmitsAudit(t *testing.T) {
	emitter := &recordingEmitter{}
	svc := NewService(&stubStore{appendFn: func(_ context.Context, companyID string, v Version) (Version, error) {
		if companyID != "c1" || v.ContractID != "k1" || v.AuthorID != "u1" {
			t.Errorf("unexpected append args %s %+v", companyID, v)
		}
		v.VersionNumber = 4
		return v, nil
	}}, emitter, nil)

	v, err := svc.SaveNewVersion(context.Background(), "c1", "k1", "u1", "<p>v4</p>")
	if err != nil {
		t.Fatalf("SaveNewVersion: %v", err)
	}
	if v.VersionNumber != 4 || v.Content == nil || *v.Content != "<p>v4</p>" {
		t.Fatalf("unexpected version %+v", v)
	}
	if len(emitter.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(emitter.entries))
	}
	e := emitter.entries[0]
	if e.EntityType != "contract_version" || e.Action != "updated" || e.EntityID != v.ID {
		t.Fatalf("unexpected audit entry %+v", e)
	}
	if string(e.NewValue) != `{"contract_id":"k1","version_number":4}` {
		t.Fatalf("unexpected new_value %s", e.NewValue)
	}
}

type failingAuditStore struct{}

func (failingAuditStore) InsertAuditEntry(context.Context, audit.Entry) (audit.Entry, error) {
	return audit.Entry{}, errors.New("audit table unavailable")
}

func (failingAuditStore) ListAuditEntries(context.Context, audit.ListQuery) ([]audit.Entry, error) {
	return nil, nil
}

func TestSaveNewVersionSwallowsAuditFailure(t *testing.T) {
	emitter := audit.NewEmitter(audit.NewRecorder(failingAuditStore{}), time.Second)
	svc := NewService(&stubStore{}, emitter, nil)
	if _, err := svc.SaveNewVersion(context.Background(), "c1", "k1", "u1", "body"); err != nil {
		t.Fatalf("audit failure leaked to caller: %v", err)
	}
	emitter.Wait()
}

func TestSaveNewVersionPropagatesStoreErrors(t *testing.T) {
	svc := NewService(&stubStore{appendFn: func(context.Context, string, Version) (Version, error) {
		return Version{}, ErrNotFound
	}}, &recordingEmitter{}, nil)
	if _, err := svc.SaveNewVersion(context.Background(), "c1", "missing", "u1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.SaveNewVersion(context.Background(), "c1", "k1", "", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without author, got %v", err)
	}
}

func newDocs(t *testing.T, store DocumentStore) (*Documents, *blob.FSBucket) {
	t.Helper()
	bucket, err := blob.NewFSBucket(t.TempDir(), Bucket)
	if err != nil {
		t.Fatalf("NewFSBucket: %v", err)
	}
	signer, err := blob.NewSigner("secret", "")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return NewDocuments(store, bucket, signer, nil), bucket
}

func TestUploadDoesNotOverwrite(t *testing.T) {
	docs, _ := newDocs(t, &stubStore{})
	ctx := context.Background()
	in := UploadInput{CompanyID: "c1", ContractID: "k1", FileName: "file.pdf", ContentType: "application/pdf", Body: strings.NewReader("one")}

	doc, err := docs.Upload(ctx, in)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if doc.StoragePath != "c1/contracts/k1/file.pdf" || doc.StorageBucket != "contracts" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.FileSizeBytes == nil || *doc.FileSizeBytes != 3 {
		t.Fatalf("unexpected size %v", doc.FileSizeBytes)
	}

	in.Body = strings.NewReader("two")
	if _, err := docs.Upload(ctx, in); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUploadRemovesObjectWhenMetadataFails(t *testing.T) {
	docs, bucket := newDocs(t, &stubStore{insertDoc: func(context.Context, Document) (Document, error) {
		return Document{}, errors.New("insert failed")
	}})
	ctx := context.Background()
	_, err := docs.Upload(ctx, UploadInput{CompanyID: "c1", ContractID: "k1", FileName: "a.txt", Body: strings.NewReader("x")})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := bucket.Open(ctx, "c1/contracts/k1/a.txt"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected orphan object removed, got %v", err)
	}
}

func TestUploadValidatesFileName(t *testing.T) {
	docs, _ := newDocs(t, &stubStore{})
	for _, name := range []string{"", "..", "a/b.pdf", `a\b.pdf`} {
		_, err := docs.Upload(context.Background(), UploadInput{CompanyID: "c1", ContractID: "k1", FileName: name, Body: strings.NewReader("x")})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", name, err)
		}
	}
}

func TestUploadRequiresContractInCompany(t *testing.T) {
	docs, _ := newDocs(t, &stubStore{contractFn: func(context.Context, string, string) (Contract, error) {
		return Contract{}, ErrNotFound
	}})
	_, err := docs.Upload(context.Background(), UploadInput{CompanyID: "c2", ContractID: "k1", FileName: "f.pdf", Body: strings.NewReader("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSignedDownloadURLScopedToCompany(t *testing.T) {
	docs, _ := newDocs(t, &stubStore{})
	u, exp, err := docs.SignedDownloadURL("c1", "c1/contracts/k1/file.pdf", 0)
	if err != nil {
		t.Fatalf("SignedDownloadURL: %v", err)
	}
	if !strings.HasPrefix(u, "/v1/storage/contracts/c1/contracts/k1/file.pdf?") {
		t.Fatalf("unexpected url %q", u)
	}
	if d := time.Until(exp); d <= 0 || d > blob.DefaultExpiry {
		t.Fatalf("unexpected expiry %v", exp)
	}
	if _, _, err := docs.SignedDownloadURL("c1", "c2/contracts/k1/file.pdf", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected cross-company path rejection, got %v", err)
	}
}

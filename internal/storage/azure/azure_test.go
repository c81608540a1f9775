package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/storage"
)

type storedBlob struct {
	content     []byte
	contentType string
	metadata    map[string]string
}

// fakeBlobService imitates enough of the Azure Blob REST API for tests.
type fakeBlobService struct {
	mu               sync.Mutex
	blobs            map[string]*storedBlob // key: container/blob
	containerCreated bool
}

func (f *fakeBlobService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	q := r.URL.Query()

	// container create: PUT /container?restype=container
	if q.Get("restype") == "container" && r.Method == http.MethodPut {
		if f.containerCreated {
			w.Header().Set("x-ms-error-code", "ContainerAlreadyExists")
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.containerCreated = true
		w.WriteHeader(http.StatusCreated)
		return
	}

	// list: GET /container?restype=container&comp=list&prefix=...
	if q.Get("comp") == "list" && r.Method == http.MethodGet {
		prefix := q.Get("prefix")
		var names []string
		for k := range f.blobs {
			name := strings.TrimPrefix(k, key+"/")
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="utf-8"?><EnumerationResults ContainerName="container"><Blobs>`)
		for _, n := range names {
			fmt.Fprintf(&b, "<Blob><Name>%s</Name><Properties></Properties></Blob>", n)
		}
		b.WriteString(`</Blobs><NextMarker /></EnumerationResults>`)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, b.String())
		return
	}

	notFound := func() {
		w.Header().Set("x-ms-error-code", "BlobNotFound")
		w.WriteHeader(http.StatusNotFound)
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		meta := map[string]string{}
		for k, v := range r.Header {
			lk := strings.ToLower(k)
			if strings.HasPrefix(lk, "x-ms-meta-") && len(v) > 0 {
				meta[strings.TrimPrefix(lk, "x-ms-meta-")] = v[0]
			}
		}
		f.blobs[key] = &storedBlob{
			content:     data,
			contentType: r.Header.Get("x-ms-blob-content-type"),
			metadata:    meta,
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodGet, http.MethodHead:
		b, ok := f.blobs[key]
		if !ok {
			notFound()
			return
		}
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b.content)))
		w.Header().Set("Content-Type", b.contentType)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(b.content)
		}

	case http.MethodDelete:
		if _, ok := f.blobs[key]; !ok {
			notFound()
			return
		}
		delete(f.blobs, key)
		w.WriteHeader(http.StatusAccepted)

	default:
		http.NotFound(w, r)
	}
}

// helper to create a test storage pointed at an httptest server
func newTestStorage(t *testing.T) (*AzureStorage, *fakeBlobService) {
	t.Helper()

	fake := &fakeBlobService{blobs: map[string]*storedBlob{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}
	return &AzureStorage{client: client, containerName: "container"}, fake
}

func TestUploadOpenDeleteAndExists(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	data := []byte("hello azure")

	if err := s.Upload(ctx, "p1/original", data, "image/jpeg", map[string]string{"uploadedBy": "Alpha"}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	stored := fake.blobs["container/p1/original"]
	if stored == nil {
		t.Fatal("blob not stored under container/p1/original")
	}
	if stored.contentType != "image/jpeg" {
		t.Errorf("content type = %q", stored.contentType)
	}
	if stored.metadata["uploadedby"] != "Alpha" {
		t.Errorf("metadata = %v", stored.metadata)
	}

	obj, err := s.Open(ctx, "p1/original")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, _ := io.ReadAll(obj.Body)
	obj.Body.Close()
	if string(got) != "hello azure" || obj.ContentType != "image/jpeg" || obj.Size != int64(len(data)) {
		t.Fatalf("Open() = %q %q %d", got, obj.ContentType, obj.Size)
	}

	exists, err := s.Exists(ctx, "p1/original")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true", exists, err)
	}

	ok, err := s.Delete(ctx, "p1/original")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}

	exists, err = s.Exists(ctx, "p1/original")
	if err != nil {
		t.Fatalf("Exists after delete returned error: %v", err)
	}
	if exists {
		t.Fatalf("Exists = true after delete, want false")
	}

	ok, err = s.Delete(ctx, "p1/original")
	if err != nil || ok {
		t.Errorf("Delete of missing blob = %v, %v; want false, nil", ok, err)
	}
}

func TestOpen_NotFound(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Open(context.Background(), "nope/original")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Open() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteByPrefix(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()

	for _, p := range []string{"p1/original", "p1/thumbnail", "renditions/p1/web.webp", "p10/original"} {
		if err := s.Upload(ctx, p, []byte("x"), "image/webp", nil); err != nil {
			t.Fatalf("Upload(%s): %v", p, err)
		}
	}

	n, err := s.DeleteByPrefix(ctx, "p1/")
	if err != nil {
		t.Fatalf("DeleteByPrefix failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if _, ok := fake.blobs["container/p10/original"]; !ok {
		t.Error("p10/original removed by prefix p1/")
	}
	if _, ok := fake.blobs["container/renditions/p1/web.webp"]; !ok {
		t.Error("renditions blob removed by prefix p1/")
	}
}

func TestEnsureContainer_Idempotent(t *testing.T) {
	s, _ := newTestStorage(t)
	ctx := context.Background()
	if err := s.EnsureContainer(ctx); err != nil {
		t.Fatalf("EnsureContainer failed: %v", err)
	}
	if err := s.EnsureContainer(ctx); err != nil {
		t.Fatalf("second EnsureContainer failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// New() - constructor validation (no cloud connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account name", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "c"}},
		{"missing account key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error, want error")
			}
		})
	}
}

func TestNew_ServiceURLOverride(t *testing.T) {
	s, err := New(&config.AzureStorageConfig{
		AccountName:   "devstoreaccount1",
		AccountKey:    "a2V5",
		ContainerName: "photos",
		ServiceURL:    "http://127.0.0.1:10000/devstoreaccount1/",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := s.client.URL(); got != "http://127.0.0.1:10000/devstoreaccount1/" {
		t.Errorf("service URL = %q", got)
	}
}

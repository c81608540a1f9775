package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aspr-photos/intake/internal/config"
	"github.com/aspr-photos/intake/internal/storage"
)

type fakeObject struct {
	data        []byte
	contentType string
}

// fakeMinio serves the handful of path-style S3 calls the backend makes.
type fakeMinio struct {
	mu      sync.Mutex
	bucket  bool
	objects map[string]*fakeObject
}

func (f *fakeMinio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	_, key, _ := strings.Cut(path, "/")

	if key == "" {
		switch {
		case r.Method == http.MethodHead:
			if !f.bucket {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPut:
			f.bucket = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
			prefix := r.URL.Query().Get("prefix")
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><Name>photos</Name><IsTruncated>false</IsTruncated>`)
			for k, o := range f.objects {
				if strings.HasPrefix(k, prefix) {
					fmt.Fprintf(w, `<Contents><Key>%s</Key><Size>%d</Size><ETag>"e"</ETag></Contents>`, k, len(o.data))
				}
			}
			fmt.Fprint(w, `</ListBucketResult>`)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	key, _ = url.PathUnescape(key)
	notFound := func() {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message><Key>%s</Key></Error>`, key)
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			data = decodeAWSChunked(data)
		}
		f.objects[key] = &fakeObject{data: data, contentType: r.Header.Get("Content-Type")}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		o, ok := f.objects[key]
		if !ok {
			notFound()
			return
		}
		w.Header().Set("Content-Type", o.contentType)
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(o.data)))
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(o.data)
		}
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// decodeAWSChunked strips the aws-chunked framing minio-go uses for signed
// streaming uploads over plain HTTP: "<hex size>;chunk-signature=...\r\n<data>\r\n".
func decodeAWSChunked(body []byte) []byte {
	var out []byte
	for len(body) > 0 {
		header, rest, ok := strings.Cut(string(body), "\r\n")
		if !ok {
			break
		}
		sizeHex, _, _ := strings.Cut(header, ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 || int64(len(rest)) < size {
			break
		}
		out = append(out, rest[:size]...)
		body = []byte(strings.TrimPrefix(rest[size:], "\r\n"))
	}
	return out
}

func newTestStorage(t *testing.T) (*MinioStorage, *fakeMinio) {
	t.Helper()
	fake := &fakeMinio{objects: map[string]*fakeObject{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(&config.MinioStorageConfig{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "photos",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, fake
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(&config.MinioStorageConfig{Bucket: "b"}); err == nil {
		t.Error("New() accepted empty endpoint")
	}
	if _, err := New(&config.MinioStorageConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Error("New() accepted empty bucket")
	}
	s, err := New(&config.MinioStorageConfig{Endpoint: "localhost:9000", Bucket: "b"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.region != defaultRegion {
		t.Errorf("region = %q, want %q", s.region, defaultRegion)
	}
}

func TestUploadOpenExistsDelete(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()

	if err := s.Upload(ctx, "p1/original", []byte("png bytes"), "image/png", map[string]string{"uploadedBy": "Bravo"}); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if fake.objects["p1/original"] == nil {
		t.Fatal("object not stored")
	}

	obj, err := s.Open(ctx, "p1/original")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	data, _ := io.ReadAll(obj.Body)
	obj.Body.Close()
	if string(data) != "png bytes" || obj.ContentType != "image/png" || obj.Size != 9 {
		t.Errorf("Open() = %q %q %d", data, obj.ContentType, obj.Size)
	}

	if ok, err := s.Exists(ctx, "p1/original"); err != nil || !ok {
		t.Errorf("Exists() = %v, %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "p1/original"); err != nil || !ok {
		t.Errorf("Delete() = %v, %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "p1/original"); err != nil || ok {
		t.Errorf("second Delete() = %v, %v; want false, nil", ok, err)
	}
	if ok, err := s.Exists(ctx, "p1/original"); err != nil || ok {
		t.Errorf("Exists() after delete = %v, %v", ok, err)
	}
}

func TestOpen_NotFound(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Open(context.Background(), "missing/original")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Open() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteByPrefix(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()
	for _, k := range []string{"p1/original", "p1/thumbnail", "p2/original"} {
		if err := s.Upload(ctx, k, []byte("x"), "image/jpeg", nil); err != nil {
			t.Fatalf("Upload(%s): %v", k, err)
		}
	}

	n, err := s.DeleteByPrefix(ctx, "p1/")
	if err != nil {
		t.Fatalf("DeleteByPrefix() error: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if _, ok := fake.objects["p2/original"]; !ok {
		t.Error("unrelated object removed")
	}
}

func TestEnsureContainer_CreatesOnce(t *testing.T) {
	s, fake := newTestStorage(t)
	ctx := context.Background()

	if err := s.EnsureContainer(ctx); err != nil {
		t.Fatalf("EnsureContainer() error: %v", err)
	}
	if !fake.bucket {
		t.Fatal("bucket not created")
	}
	if err := s.EnsureContainer(ctx); err != nil {
		t.Fatalf("second EnsureContainer() error: %v", err)
	}
}

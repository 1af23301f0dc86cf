package blobworker

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	w := New(t.TempDir(), zerolog.Nop())
	srv := httptest.NewServer(w.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	content := strings.Repeat("payload ", 100)

	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=docs&path=report.pdf", strings.NewReader(content))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var created struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if created.Size != int64(len(content)) {
		t.Fatalf("size = %d, want %d", created.Size, len(content))
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/files/docs/report.pdf", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != content {
		t.Fatal("downloaded content differs from uploaded")
	}
}

func TestUploadEmptyBodyRejected(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=docs&path=empty.txt", strings.NewReader(""))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestUploadMissingParams(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=docs", strings.NewReader("x"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=docs&path=..%2F..%2Fetc%2Fpasswd", strings.NewReader("x"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/files/docs/nope.txt", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	srv := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=docs&path=a.txt", strings.NewReader("x")).Body.Close()

	for i := 0; i < 2; i++ {
		resp := do(t, http.MethodDelete, srv.URL+"/api/v1/files/docs/a.txt", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("delete #%d status = %d, want 204", i+1, resp.StatusCode)
		}
	}
}

func TestBucketLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, http.MethodPut, srv.URL+"/api/v1/buckets/photos", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	do(t, http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=photos&path=cat.jpg", strings.NewReader("meow")).Body.Close()

	resp = do(t, http.MethodDelete, srv.URL+"/api/v1/buckets/photos", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/files/photos/cat.jpg", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("file survived bucket delete: %d", resp.StatusCode)
	}
}

func TestMultipartFallback(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "upload.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("multipart content")); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/files/upload?bucket=docs&path=upload.bin", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/v1/files/docs/upload.bin", nil)
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "multipart content" {
		t.Fatalf("got %q", got)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/api/v1/health", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

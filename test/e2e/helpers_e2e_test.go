//go:build e2e

// Package e2e_test drives a running matching-engine instance over HTTP.
// Point E2E_BASE_URL at a live server (defaults to localhost:8080) and run
// with `go test -tags e2e ./test/e2e/...`.
package e2e_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

var baseURL = getenv("E2E_BASE_URL", "http://localhost:8080")

// uploadDoc posts filename/content as a multipart /ingest/{cv,jd} request
// and returns the decoded JSON body.
func uploadDoc(t *testing.T, client *http.Client, kind, filename, content string) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	endpoint := "/ingest/cv"
	if kind == "jd" {
		endpoint = "/ingest/jd"
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+endpoint, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s request failed: %v", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s response: %v", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s returned %d: %#v", endpoint, resp.StatusCode, body)
	}
	return body
}

// waitForDocStatus polls GET /doc/{id} until status reaches want or the
// deadline passes, returning the last seen status.
func waitForDocStatus(t *testing.T, client *http.Client, id, want string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/doc/" + id)
		if err != nil {
			t.Fatalf("get /doc/%s failed: %v", id, err)
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		_ = resp.Body.Close()
		last, _ = body["status"].(string)
		if last == want {
			return last
		}
		time.Sleep(500 * time.Millisecond)
	}
	return last
}

func postJSON(t *testing.T, client *http.Client, path string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("post %s failed: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func uniqueFilename(prefix string) string {
	return fmt.Sprintf("%s-%d.txt", prefix, time.Now().UnixNano())
}

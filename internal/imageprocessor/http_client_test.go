package imageprocessor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHTTPClientDetectParsesFaces(t *testing.T) {
	var gotImage []byte
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			return
		}
		gotImage, _ = io.ReadAll(file)
		gotModel = r.FormValue("model")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","faces":[{"bbox":[1,2,11,22],"confidence":0.98,"embedding":[0.5,-0.5]}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", time.Second, Options{Model: "buffalo_l"}, zap.NewNop())
	faces, err := client.Detect(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if string(gotImage) != "jpeg-bytes" || gotModel != "buffalo_l" {
		t.Fatalf("unexpected request payload: image=%q model=%q", gotImage, gotModel)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].BBox.X2 != 11 || faces[0].Embedding[1] != -0.5 || faces[0].Score != 0.98 {
		t.Fatalf("unexpected face: %+v", faces[0])
	}
}

func TestHTTPClientDetectNoFaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","faces":[]}`))
	}))
	defer server.Close()

	faces, err := NewHTTPClient(server.URL, time.Second, Options{}, zap.NewNop()).Detect(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(faces) != 0 {
		t.Fatalf("expected no faces, got %d", len(faces))
	}
}

func TestHTTPClientDetectReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPClient(server.URL, time.Second, Options{}, zap.NewNop()).Detect(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

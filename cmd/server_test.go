package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/config"
	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/handlers"
	"github.com/example/facegate/internal/repository"
	"github.com/example/facegate/internal/usecase"
)

// blockingRecognizer holds every recognition until release is closed.
type blockingRecognizer struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRecognizer) Recognize(ctx context.Context, payload string) usecase.RecognizeResponse {
	close(r.started)
	<-r.release
	return usecase.RecognizeResponse{Name: "alice", Score: 0.93, Accepted: true, FaceBox: &faceid.Box{X: 1, Y: 2, Width: 3, Height: 4}}
}

type noopRegistrar struct{}

func (noopRegistrar) RegisterImage(ctx context.Context, identity, payload string) (faceid.Face, error) {
	return faceid.Face{}, nil
}

type emptyGallery struct{}

func (emptyGallery) CountByIdentity(ctx context.Context) ([]repository.IdentityCount, error) {
	return nil, nil
}

func TestServeDrainsInFlightRecognitionOnSignal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recognizer := &blockingRecognizer{started: make(chan struct{}), release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(recognizer.release)
		}
	}()

	router := handlers.NewRouter(config.ServerConfig{MaxBodyBytes: 1 << 16}, zap.NewNop())
	handlers.RegisterRoutes(router, handlers.New(noopRegistrar{}, recognizer, emptyGallery{}, zap.NewNop()), nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(&http.Server{Handler: router}, 2*time.Second, zap.NewNop(), listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	type result struct {
		status int
		body   usecase.RecognizeResponse
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Post("http://"+addr+"/recognize", "application/json", bytes.NewBufferString(`{"image":"aGVsbG8="}`))
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var body usecase.RecognizeResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		resultCh <- result{status: resp.StatusCode, body: body, err: err}
	}()

	select {
	case <-recognizer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("recognition did not start in time")
	}

	signalCh <- syscall.SIGTERM
	time.Sleep(50 * time.Millisecond)
	released = true
	close(recognizer.release)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("request failed: %v", res.err)
		}
		if res.status != http.StatusOK {
			t.Fatalf("unexpected status: %d", res.status)
		}
		if res.body.Name != "alice" || !res.body.Accepted || res.body.FaceBox == nil {
			t.Fatalf("unexpected body: %+v", res.body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shut down cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	if _, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
		t.Fatal("listener still accepting after shutdown")
	}
}

func TestServeReturnsListenerError(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	listener.Close()

	err = serveHTTPServerWithOptions(&http.Server{Handler: http.NotFoundHandler()}, time.Second, zap.NewNop(), listener, make(chan os.Signal))
	if err == nil {
		t.Fatal("expected serve error on a closed listener")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

package usecase

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"math"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/example/facegate/internal/events"
	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/gallery"
	"github.com/example/facegate/internal/imagesource"
	"github.com/example/facegate/internal/matcher"
	"github.com/example/facegate/internal/repository"
)

const testDim = 4

type stubExtractor struct {
	mu        sync.Mutex
	responses [][]faceid.Face
	errs      []error
	calls     int
}

func (s *stubExtractor) Detect(ctx context.Context, image []byte) ([]faceid.Face, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, nil
}

// memoryGallery is a SampleStore, GallerySource and GalleryInvalidator backed by a slice.
type memoryGallery struct {
	mu            sync.Mutex
	samples       []repository.Sample
	appendErrs    []error
	appendCalls   int
	invalidations int
}

func (m *memoryGallery) Append(ctx context.Context, identity string, embedding faceid.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.appendCalls
	m.appendCalls++
	if i < len(m.appendErrs) && m.appendErrs[i] != nil {
		return m.appendErrs[i]
	}
	m.samples = append(m.samples, repository.Sample{ID: uint(len(m.samples) + 1), Identity: identity, Embedding: embedding.Clone()})
	return nil
}

func (m *memoryGallery) Current(ctx context.Context) (*gallery.Gallery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gallery.Build(testDim, m.samples)
}

func (m *memoryGallery) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.invalidations++
	m.mu.Unlock()
}

type sliceSource struct {
	frames  []imagesource.Frame
	errs    []error
	openErr error
	next    int
	opened  bool
	closed  bool
}

func (s *sliceSource) Open(ctx context.Context) error {
	s.opened = s.openErr == nil
	return s.openErr
}

func (s *sliceSource) Next(ctx context.Context) (imagesource.Frame, error) {
	i := s.next
	s.next++
	if i < len(s.errs) && s.errs[i] != nil {
		return imagesource.Frame{}, s.errs[i]
	}
	if i < len(s.frames) {
		return s.frames[i], nil
	}
	return imagesource.Frame{}, io.EOF
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type recordingPublisher struct {
	events []events.Recognition
	err    error
}

func (p *recordingPublisher) PublishRecognition(ctx context.Context, event events.Recognition) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() {}

func face(values ...float32) faceid.Face {
	return faceid.Face{
		Embedding: faceid.Embedding(values),
		BBox:      faceid.BBox{X1: 10, Y1: 20, X2: 110, Y2: 140},
		Score:     0.99,
	}
}

func frames(n int) []imagesource.Frame {
	out := make([]imagesource.Frame, n)
	for i := range out {
		out[i] = imagesource.Frame{Seq: i + 1, Data: []byte{byte(i)}}
	}
	return out
}

func pngPayload(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestMatcher(t *testing.T) *matcher.Matcher {
	t.Helper()
	m, err := matcher.New(0.45, testDim, matcher.BruteForce{})
	if err != nil {
		t.Fatalf("failed to build matcher: %v", err)
	}
	return m
}

func TestEnrollStoresEverySampleWithAFace(t *testing.T) {
	store := &memoryGallery{}
	extractor := &stubExtractor{responses: [][]faceid.Face{
		{face(1, 0, 0, 0)},
		nil,
		{face(0.9, 0.1, 0, 0)},
	}}
	uc := NewEnrollmentUseCase(store, extractor, store, nil, zap.NewNop())
	src := &sliceSource{frames: frames(3)}

	var observed []EnrollmentEvent
	stored, err := uc.Enroll(context.Background(), "alice", 3, src, func(e EnrollmentEvent) {
		observed = append(observed, e)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored != 2 {
		t.Fatalf("expected 2 stored samples, got %d", stored)
	}
	if len(store.samples) != 2 || store.samples[0].Identity != "alice" {
		t.Fatalf("unexpected samples: %+v", store.samples)
	}
	if len(observed) != 3 {
		t.Fatalf("expected an event per slot, got %d", len(observed))
	}
	if !errors.Is(observed[1].Err, faceid.ErrNoFace) || observed[1].Stored {
		t.Fatalf("expected slot 2 to be rejected for no face, got %+v", observed[1])
	}
	if store.invalidations != 1 {
		t.Fatalf("expected one gallery invalidation, got %d", store.invalidations)
	}
	if !src.closed {
		t.Fatal("expected source to be closed")
	}
}

func TestEnrollStopsEarlyOnCancel(t *testing.T) {
	store := &memoryGallery{}
	extractor := &stubExtractor{responses: [][]faceid.Face{{face(1, 0, 0, 0)}}}
	uc := NewEnrollmentUseCase(store, extractor, store, nil, zap.NewNop())
	src := &sliceSource{
		frames: frames(1),
		errs:   []error{nil, faceid.ErrCancelled},
	}

	stored, err := uc.Enroll(context.Background(), "bob", 5, src, nil)
	if err != nil {
		t.Fatalf("cancel must not be an error, got %v", err)
	}
	if stored != 1 || extractor.calls != 1 {
		t.Fatalf("expected 1 stored after 1 extraction, got stored=%d calls=%d", stored, extractor.calls)
	}
}

func TestEnrollCancelBeforeFirstSampleWritesNothing(t *testing.T) {
	store := &memoryGallery{}
	uc := NewEnrollmentUseCase(store, &stubExtractor{}, store, nil, zap.NewNop())

	stored, err := uc.Enroll(context.Background(), "bob", 3, &sliceSource{errs: []error{faceid.ErrCancelled}}, nil)
	if err != nil || stored != 0 {
		t.Fatalf("expected clean stop with nothing stored, got stored=%d err=%v", stored, err)
	}
	if store.invalidations != 0 {
		t.Fatal("gallery must not be invalidated when nothing was stored")
	}
}

func TestEnrollAbortsOnStorageFailure(t *testing.T) {
	store := &memoryGallery{appendErrs: []error{nil, faceid.ErrStorage}}
	extractor := &stubExtractor{responses: [][]faceid.Face{
		{face(1, 0, 0, 0)}, {face(1, 0, 0, 0)}, {face(1, 0, 0, 0)},
	}}
	uc := NewEnrollmentUseCase(store, extractor, store, nil, zap.NewNop())

	stored, err := uc.Enroll(context.Background(), "carol", 3, &sliceSource{frames: frames(3)}, nil)
	if !errors.Is(err, faceid.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if stored != 1 || extractor.calls != 2 {
		t.Fatalf("expected abort after second slot, got stored=%d calls=%d", stored, extractor.calls)
	}
	if store.invalidations != 1 {
		t.Fatal("expected the earlier sample to invalidate the gallery")
	}
}

func TestEnrollSkipsCaptureErrors(t *testing.T) {
	store := &memoryGallery{}
	extractor := &stubExtractor{responses: [][]faceid.Face{{face(1, 0, 0, 0)}}}
	uc := NewEnrollmentUseCase(store, extractor, store, nil, zap.NewNop())
	src := &sliceSource{
		frames: frames(2),
		errs:   []error{faceid.ErrCapture},
	}

	stored, err := uc.Enroll(context.Background(), "dave", 2, src, nil)
	if err != nil || stored != 1 {
		t.Fatalf("expected 1 stored sample, got stored=%d err=%v", stored, err)
	}
}

func TestEnrollValidatesInput(t *testing.T) {
	store := &memoryGallery{}
	uc := NewEnrollmentUseCase(store, &stubExtractor{}, store, nil, zap.NewNop())

	if _, err := uc.Enroll(context.Background(), "  ", 3, &sliceSource{}, nil); !errors.Is(err, faceid.ErrInvalidIdentity) {
		t.Fatalf("expected invalid identity error, got %v", err)
	}
	if _, err := uc.Enroll(context.Background(), "erin", 0, &sliceSource{}, nil); !errors.Is(err, ErrInvalidSampleCount) {
		t.Fatalf("expected invalid sample count error, got %v", err)
	}
	if _, err := uc.Enroll(context.Background(), "erin", 1, &sliceSource{openErr: faceid.ErrCapture}, nil); !errors.Is(err, faceid.ErrCapture) {
		t.Fatalf("expected capture error on open, got %v", err)
	}
}

func TestRegisterImageNoFace(t *testing.T) {
	store := &memoryGallery{}
	uc := NewEnrollmentUseCase(store, &stubExtractor{}, store, nil, zap.NewNop())

	_, err := uc.RegisterImage(context.Background(), "alice", pngPayload(t))
	if !errors.Is(err, faceid.ErrNoFace) {
		t.Fatalf("expected ErrNoFace, got %v", err)
	}
	if len(store.samples) != 0 || store.invalidations != 0 {
		t.Fatal("expected no writes")
	}
}

func TestRegisterImageRejectsMalformedPayload(t *testing.T) {
	store := &memoryGallery{}
	extractor := &stubExtractor{}
	uc := NewEnrollmentUseCase(store, extractor, store, nil, zap.NewNop())

	if _, err := uc.RegisterImage(context.Background(), "alice", "not-a-data-url"); !errors.Is(err, faceid.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if extractor.calls != 0 {
		t.Fatal("extractor must not run on malformed input")
	}
}

func TestRecognizeEndToEnd(t *testing.T) {
	store := &memoryGallery{}
	extractor := &stubExtractor{responses: [][]faceid.Face{
		{face(1, 0, 0, 0)},
		{face(0.98, 0.05, 0, 0)},
		{face(0.99, 0.02, 0.01, 0)},
		{face(0.97, 0, 0.03, 0)},
		{face(0, 0, 0, 1)},
	}}
	enroll := NewEnrollmentUseCase(store, extractor, store, nil, zap.NewNop())
	if stored, err := enroll.Enroll(context.Background(), "alice", 3, &sliceSource{frames: frames(3)}, nil); err != nil || stored != 3 {
		t.Fatalf("enroll failed: stored=%d err=%v", stored, err)
	}

	publisher := &recordingPublisher{}
	recognize := NewRecognitionUseCase(extractor, store, newTestMatcher(t), nil, matcher.ScoreRaw, publisher, zap.NewNop())

	resp := recognize.Recognize(context.Background(), pngPayload(t))
	if resp.Name != "alice" || !resp.Accepted || resp.Score < 0.9 {
		t.Fatalf("expected alice, got %+v", resp)
	}
	if resp.FaceBox == nil || *resp.FaceBox != (faceid.Box{X: 10, Y: 20, Width: 100, Height: 120}) {
		t.Fatalf("unexpected face box: %+v", resp.FaceBox)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if len(publisher.events) != 1 || publisher.events[0].Identity != "alice" || publisher.events[0].Source != "http" {
		t.Fatalf("unexpected events: %+v", publisher.events)
	}

	resp = recognize.Recognize(context.Background(), pngPayload(t))
	if resp.Name != faceid.Unknown || resp.Accepted {
		t.Fatalf("expected orthogonal face to be Unknown, got %+v", resp)
	}
	if resp.FaceBox == nil {
		t.Fatal("expected face box for a detected but rejected face")
	}
}

func TestRecognizeMalformedInput(t *testing.T) {
	extractor := &stubExtractor{}
	uc := NewRecognitionUseCase(extractor, &memoryGallery{}, newTestMatcher(t), nil, "", nil, zap.NewNop())

	for _, payload := range []string{"", "data:image/png;base64", "data:image/png;base64,aGVsbG8="} {
		resp := uc.Recognize(context.Background(), payload)
		if resp.Name != faceid.Unknown || resp.Score != 0 || resp.FaceBox != nil || resp.Error == "" {
			t.Fatalf("payload %q: unexpected response %+v", payload, resp)
		}
	}
	if extractor.calls != 0 {
		t.Fatal("extractor must not run on malformed input")
	}
}

func TestRecognizeNoFace(t *testing.T) {
	uc := NewRecognitionUseCase(&stubExtractor{}, &memoryGallery{}, newTestMatcher(t), nil, "", nil, zap.NewNop())

	resp := uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != faceid.Unknown || resp.FaceBox != nil || resp.Error != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRecognizeExtractorFailure(t *testing.T) {
	extractor := &stubExtractor{errs: []error{errors.New("extractor down")}}
	uc := NewRecognitionUseCase(extractor, &memoryGallery{}, newTestMatcher(t), nil, "", nil, zap.NewNop())

	resp := uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != faceid.Unknown || resp.Error == "" || resp.FaceBox != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRecognizeNonFiniteEmbeddingFailsClosed(t *testing.T) {
	store := &memoryGallery{samples: []repository.Sample{{ID: 1, Identity: "alice", Embedding: faceid.Embedding{1, 0, 0, 0}}}}
	extractor := &stubExtractor{responses: [][]faceid.Face{{face(float32(math.NaN()), 0, 0, 0)}}}
	publisher := &recordingPublisher{}
	uc := NewRecognitionUseCase(extractor, store, newTestMatcher(t), nil, "", publisher, zap.NewNop())

	resp := uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != faceid.Unknown || resp.Score != 0 || resp.Accepted || resp.FaceBox != nil || resp.Error == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, err := json.Marshal(resp); err != nil {
		t.Fatalf("response must stay encodable: %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events, got %+v", publisher.events)
	}
}

func TestRecognizeEmptyGallery(t *testing.T) {
	extractor := &stubExtractor{responses: [][]faceid.Face{{face(1, 0, 0, 0)}}}
	uc := NewRecognitionUseCase(extractor, &memoryGallery{}, newTestMatcher(t), nil, "", nil, zap.NewNop())

	resp := uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != faceid.Unknown || resp.Score != 0 || resp.Error != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRecognizeZeroBelowThresholdPolicy(t *testing.T) {
	store := &memoryGallery{samples: []repository.Sample{{ID: 1, Identity: "alice", Embedding: faceid.Embedding{1, 0, 0, 0}}}}
	extractor := &stubExtractor{responses: [][]faceid.Face{{face(1, 1, 1, 1)}}}
	uc := NewRecognitionUseCase(extractor, store, newTestMatcher(t), nil, matcher.ScoreZeroBelowThreshold, nil, zap.NewNop())

	// cos([1,0,0,0],[1,1,1,1]) = 0.5, above 0.45, so the score stays.
	resp := uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != "alice" || resp.Score != 0.5 {
		t.Fatalf("unexpected response %+v", resp)
	}

	extractor.responses = append(extractor.responses, []faceid.Face{face(0.1, 1, 1, 1)})
	resp = uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != faceid.Unknown || resp.Score != 0 {
		t.Fatalf("expected zeroed score below threshold, got %+v", resp)
	}
}

func TestRecognizeAllFacesListsEveryMatch(t *testing.T) {
	store := &memoryGallery{samples: []repository.Sample{
		{ID: 1, Identity: "alice", Embedding: faceid.Embedding{1, 0, 0, 0}},
		{ID: 2, Identity: "bob", Embedding: faceid.Embedding{0, 1, 0, 0}},
	}}
	extractor := &stubExtractor{responses: [][]faceid.Face{{face(1, 0, 0, 0), face(0, 1, 0, 0)}}}
	publisher := &recordingPublisher{err: errors.New("broker down")}
	uc := NewRecognitionUseCase(extractor, store, newTestMatcher(t), matcher.AllFaces{}, "", publisher, zap.NewNop())

	resp := uc.Recognize(context.Background(), pngPayload(t))
	if resp.Name != "alice" || len(resp.Faces) != 2 || resp.Faces[1].Name != "bob" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(publisher.events) != 2 {
		t.Fatalf("expected an event per face, got %d", len(publisher.events))
	}
}

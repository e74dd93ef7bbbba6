package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/imagesource"
	"github.com/example/facegate/internal/logging"
)

// State is the streaming loop position.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateDetectFailed
	StateDetected
	StateMatching
	StateRendering
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDetectFailed:
		return "detect_failed"
	case StateDetected:
		return "detected"
	case StateMatching:
		return "matching"
	case StateRendering:
		return "rendering"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Renderer displays a frame with overlays and reports a quit request.
type Renderer interface {
	Render(ctx context.Context, frame imagesource.Frame, overlays []imagesource.Overlay) (bool, error)
}

// FrameRecognizer is the part of RecognitionUseCase the watcher drives.
type FrameRecognizer interface {
	Detect(ctx context.Context, requestID string, image []byte) ([]faceid.Face, error)
	MatchFaces(ctx context.Context, requestID, source string, faces []faceid.Face) ([]FaceMatch, error)
}

const defaultMaxCaptureFailures = 30

// Watcher runs continuous recognition over a frame source.
type Watcher struct {
	source     imagesource.Source
	renderer   Renderer
	recognizer FrameRecognizer
	logger     *zap.Logger

	maxCaptureFailures int

	state    atomic.Int32
	observMu sync.Mutex
	observe  func(State)
}

func NewWatcher(source imagesource.Source, renderer Renderer, recognizer FrameRecognizer, logger *zap.Logger) *Watcher {
	return &Watcher{
		source:             source,
		renderer:           renderer,
		recognizer:         recognizer,
		logger:             logger.Named("watcher"),
		maxCaptureFailures: defaultMaxCaptureFailures,
	}
}

// OnStateChange registers fn to be called on every transition.
func (w *Watcher) OnStateChange(fn func(State)) {
	w.observMu.Lock()
	w.observe = fn
	w.observMu.Unlock()
}

// State returns the current loop position.
func (w *Watcher) State() State {
	return State(w.state.Load())
}

func (w *Watcher) setState(s State) {
	w.state.Store(int32(s))
	w.observMu.Lock()
	fn := w.observe
	w.observMu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Run loops until ctx is cancelled, the source is exhausted or cancelled, or
// the renderer asks to quit. Failing to open the source is fatal; individual
// capture and extraction failures are logged and skipped.
func (w *Watcher) Run(ctx context.Context) error {
	sessionID := uuid.NewString()
	opLogger := logging.WithOperation(w.logger, "usecase.watch", sessionID)

	w.setState(StateIdle)
	if err := w.source.Open(ctx); err != nil {
		w.setState(StateStopped)
		return logging.NewOperationError("usecase.watch.open_source", sessionID, err)
	}
	defer func() {
		if err := w.source.Close(); err != nil {
			opLogger.Warn("failed to close source", zap.Error(err))
		}
		w.setState(StateStopped)
		opLogger.Info("watcher stopped")
	}()
	opLogger.Info("watcher started")

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(StateCapturing)
		frame, err := w.source.Next(ctx)
		switch {
		case errors.Is(err, faceid.ErrCancelled), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			failures++
			opLogger.Warn("capture failed", zap.Error(err), zap.Int("consecutive", failures))
			if failures >= w.maxCaptureFailures {
				return logging.NewOperationError("usecase.watch.capture", sessionID, err)
			}
			continue
		}
		failures = 0

		overlays, err := w.recognize(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			opLogger.Warn("recognition failed", zap.Int("frame", frame.Seq), zap.Error(err))
		}

		// Frames without a usable face are still shown, with no overlays.
		w.setState(StateRendering)
		quit, err := w.renderer.Render(ctx, frame, overlays)
		if err != nil {
			opLogger.Warn("render failed", zap.Int("frame", frame.Seq), zap.Error(err))
		}
		if quit {
			return nil
		}
	}
}

func (w *Watcher) recognize(ctx context.Context, frame imagesource.Frame) ([]imagesource.Overlay, error) {
	requestID := uuid.NewString()
	faces, err := w.recognizer.Detect(ctx, requestID, frame.Data)
	if err != nil || len(faces) == 0 {
		w.setState(StateDetectFailed)
		return nil, err
	}
	w.setState(StateDetected)

	w.setState(StateMatching)
	matches, err := w.recognizer.MatchFaces(ctx, requestID, "camera", faces)
	if err != nil {
		return nil, err
	}

	overlays := make([]imagesource.Overlay, 0, len(matches))
	for _, m := range matches {
		box := m.FaceBox
		overlays = append(overlays, imagesource.Overlay{
			Label:    fmt.Sprintf("%s (%.2f)", m.Name, m.Score),
			Box:      &box,
			Accepted: m.Accepted,
		})
	}
	return overlays, nil
}

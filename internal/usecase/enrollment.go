package usecase

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/imageprocessor"
	"github.com/example/facegate/internal/imagesource"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/matcher"
)

// ErrInvalidSampleCount is returned when fewer than one attempt is requested.
var ErrInvalidSampleCount = errors.New("sample count must be at least 1")

// EnrollmentEvent reports the outcome of one attempt slot.
type EnrollmentEvent struct {
	SessionID string
	Slot      int
	Attempts  int
	Stored    bool
	Err       error
}

// EnrollmentObserver receives one event per consumed slot.
type EnrollmentObserver func(EnrollmentEvent)

// EnrollmentUseCase captures samples for an identity and stores their embeddings.
type EnrollmentUseCase struct {
	store     SampleStore
	extractor imageprocessor.Client
	galleries GalleryInvalidator
	selector  matcher.FaceSelector
	logger    *zap.Logger
}

func NewEnrollmentUseCase(store SampleStore, extractor imageprocessor.Client, galleries GalleryInvalidator, selector matcher.FaceSelector, logger *zap.Logger) *EnrollmentUseCase {
	if selector == nil {
		selector = matcher.FirstFace{}
	}
	return &EnrollmentUseCase{
		store:     store,
		extractor: extractor,
		galleries: galleries,
		selector:  selector,
		logger:    logger.Named("enrollment_usecase"),
	}
}

// Enroll consumes up to attempts images from src. Images without a face use
// up their slot without a write. Operator cancellation or an exhausted source
// ends the session early and is not an error. A storage failure aborts the
// session; samples already stored stay stored.
func (uc *EnrollmentUseCase) Enroll(ctx context.Context, identity string, attempts int, src imagesource.Source, observe EnrollmentObserver) (int, error) {
	identity, err := faceid.NormalizeIdentity(identity)
	if err != nil {
		return 0, err
	}
	if attempts < 1 {
		return 0, ErrInvalidSampleCount
	}
	if observe == nil {
		observe = func(EnrollmentEvent) {}
	}

	sessionID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", sessionID).With(zap.String("identity", identity))

	if err := src.Open(ctx); err != nil {
		return 0, logging.NewOperationError("usecase.enroll.open_source", sessionID, err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			opLogger.Warn("failed to close source", zap.Error(err))
		}
	}()

	stored := 0
	defer func() {
		if stored > 0 {
			uc.galleries.Invalidate(ctx)
		}
	}()

	for slot := 1; slot <= attempts; slot++ {
		event := EnrollmentEvent{SessionID: sessionID, Slot: slot, Attempts: attempts}

		frame, err := src.Next(ctx)
		if errors.Is(err, faceid.ErrCancelled) || errors.Is(err, io.EOF) {
			opLogger.Info("enrollment ended early", zap.Int("stored", stored), zap.Int("slot", slot))
			break
		}
		if err != nil {
			opLogger.Warn("failed to capture sample", zap.Int("slot", slot), zap.Error(err))
			event.Err = err
			observe(event)
			continue
		}

		face, err := uc.extractOne(ctx, frame.Data)
		if err != nil {
			opLogger.Info("sample rejected", zap.Int("slot", slot), zap.Error(err))
			event.Err = err
			observe(event)
			continue
		}

		if err := uc.store.Append(ctx, identity, face.Embedding); err != nil {
			wrapped := logging.NewOperationError("usecase.enroll.append", sessionID, err)
			opLogger.Error("failed to store sample", zap.Int("slot", slot), zap.Error(wrapped))
			event.Err = wrapped
			observe(event)
			return stored, wrapped
		}

		stored++
		event.Stored = true
		observe(event)
		opLogger.Debug("sample stored", zap.Int("slot", slot))
	}

	opLogger.Info("enrollment finished", zap.Int("stored", stored), zap.Int("attempts", attempts))
	return stored, nil
}

// RegisterImage enrolls a single uploaded image. It returns an error wrapping
// faceid.ErrNoFace when the extractor finds nothing.
func (uc *EnrollmentUseCase) RegisterImage(ctx context.Context, identity, payload string) (faceid.Face, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.register_image", requestID)

	identity, err := faceid.NormalizeIdentity(identity)
	if err != nil {
		return faceid.Face{}, err
	}

	img, err := imagesource.DecodePayload(payload)
	if err != nil {
		return faceid.Face{}, err
	}

	face, err := uc.extractOne(ctx, img.Data)
	if err != nil {
		opLogger.Info("registration rejected", zap.String("identity", identity), zap.Error(err))
		return faceid.Face{}, logging.NewOperationError("usecase.register_image.extract", requestID, err)
	}

	if err := uc.store.Append(ctx, identity, face.Embedding); err != nil {
		wrapped := logging.NewOperationError("usecase.register_image.append", requestID, err)
		opLogger.Error("failed to store sample", zap.Error(wrapped))
		return faceid.Face{}, wrapped
	}
	uc.galleries.Invalidate(ctx)

	opLogger.Info("identity registered", zap.String("identity", identity))
	return face, nil
}

func (uc *EnrollmentUseCase) extractOne(ctx context.Context, image []byte) (faceid.Face, error) {
	faces, err := uc.extractor.Detect(ctx, image)
	if err != nil {
		return faceid.Face{}, err
	}
	selected := uc.selector.Select(faces)
	if len(selected) == 0 {
		return faceid.Face{}, faceid.ErrNoFace
	}
	return selected[0], nil
}

package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/events"
	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/imageprocessor"
	"github.com/example/facegate/internal/imagesource"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/matcher"
)

// FaceMatch is the decision for one detected face.
type FaceMatch struct {
	Name     string     `json:"name"`
	Nearest  string     `json:"-"`
	Score    float64    `json:"score"`
	Accepted bool       `json:"accepted"`
	FaceBox  faceid.Box `json:"face_box"`
}

// RecognizeResponse is always well formed. On failure Name is Unknown, Score
// is 0, FaceBox is nil and Error carries the reason. No detected face is not
// an error.
type RecognizeResponse struct {
	Name     string      `json:"name"`
	Score    float64     `json:"score"`
	Accepted bool        `json:"accepted"`
	FaceBox  *faceid.Box `json:"face_box"`
	Error    string      `json:"error,omitempty"`
	Faces    []FaceMatch `json:"faces,omitempty"`
}

func unknownResponse(errMsg string) RecognizeResponse {
	return RecognizeResponse{Name: faceid.Unknown, Error: errMsg}
}

// RecognitionUseCase matches faces in an image against the enrolled gallery.
type RecognitionUseCase struct {
	extractor imageprocessor.Client
	galleries GallerySource
	matcher   *matcher.Matcher
	selector  matcher.FaceSelector
	policy    matcher.ScorePolicy
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewRecognitionUseCase(extractor imageprocessor.Client, galleries GallerySource, m *matcher.Matcher, selector matcher.FaceSelector, policy matcher.ScorePolicy, publisher events.Publisher, logger *zap.Logger) *RecognitionUseCase {
	if selector == nil {
		selector = matcher.FirstFace{}
	}
	if policy == "" {
		policy = matcher.ScoreRaw
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &RecognitionUseCase{
		extractor: extractor,
		galleries: galleries,
		matcher:   m,
		selector:  selector,
		policy:    policy,
		publisher: publisher,
		logger:    logger.Named("recognition_usecase"),
		now:       time.Now,
	}
}

// Recognize decodes a data URL payload and matches the selected faces. The
// first match fills the top-level fields.
func (uc *RecognitionUseCase) Recognize(ctx context.Context, payload string) RecognizeResponse {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.recognize", requestID)

	img, err := imagesource.DecodePayload(payload)
	if err != nil {
		opLogger.Info("invalid image payload", zap.Error(err))
		return unknownResponse(err.Error())
	}

	matches, err := uc.MatchImage(ctx, requestID, "http", img.Data)
	if err != nil {
		opLogger.Error("recognition failed", zap.Error(err))
		return unknownResponse(err.Error())
	}
	if len(matches) == 0 {
		return unknownResponse("")
	}

	primary := matches[0]
	box := primary.FaceBox
	resp := RecognizeResponse{
		Name:     primary.Name,
		Score:    primary.Score,
		Accepted: primary.Accepted,
		FaceBox:  &box,
	}
	if len(matches) > 1 {
		resp.Faces = matches
	}
	return resp
}

// MatchImage runs the extractor once and matches every selected face. An
// image without faces yields no matches and no error.
func (uc *RecognitionUseCase) MatchImage(ctx context.Context, requestID, source string, image []byte) ([]FaceMatch, error) {
	faces, err := uc.Detect(ctx, requestID, image)
	if err != nil {
		return nil, err
	}
	return uc.MatchFaces(ctx, requestID, source, faces)
}

// Detect runs the extractor and applies the face selection strategy.
func (uc *RecognitionUseCase) Detect(ctx context.Context, requestID string, image []byte) ([]faceid.Face, error) {
	faces, err := uc.extractor.Detect(ctx, image)
	if err != nil {
		return nil, logging.NewOperationError("usecase.detect", requestID, err)
	}
	return uc.selector.Select(faces), nil
}

// MatchFaces matches already detected faces against the current gallery and
// publishes one event per face.
func (uc *RecognitionUseCase) MatchFaces(ctx context.Context, requestID, source string, faces []faceid.Face) ([]FaceMatch, error) {
	if len(faces) == 0 {
		return nil, nil
	}
	g, err := uc.galleries.Current(ctx)
	if err != nil {
		return nil, logging.NewOperationError("usecase.match_faces.gallery", requestID, err)
	}

	matches := make([]FaceMatch, 0, len(faces))
	for _, face := range faces {
		result, err := uc.matcher.Match(face.Embedding, g)
		if err != nil {
			return nil, logging.NewOperationError("usecase.match_faces", requestID, err)
		}
		match := FaceMatch{
			Name:     result.Identity,
			Nearest:  result.Nearest,
			Score:    result.ReportedScore(uc.policy),
			Accepted: result.Accepted,
			FaceBox:  face.BBox.Box(),
		}
		matches = append(matches, match)
		uc.publish(ctx, requestID, source, match)
	}
	return matches, nil
}

func (uc *RecognitionUseCase) publish(ctx context.Context, requestID, source string, match FaceMatch) {
	box := match.FaceBox
	event := events.Recognition{
		RequestID: requestID,
		Source:    source,
		Identity:  match.Name,
		Nearest:   match.Nearest,
		Score:     match.Score,
		Accepted:  match.Accepted,
		FaceBox:   &box,
		Timestamp: uc.now().UTC(),
	}
	if err := uc.publisher.PublishRecognition(ctx, event); err != nil {
		logging.WithOperation(uc.logger, "usecase.publish_recognition", requestID).Warn("failed to publish recognition", zap.Error(err))
	}
}

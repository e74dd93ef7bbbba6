package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/logging"
	"github.com/example/facegate/internal/repository"
	"github.com/example/facegate/internal/usecase"
)

const (
	msgFaceSaved = "Face saved!"
	msgNoFace    = "No face detected. Try again."
)

// Registrar stores a single uploaded image for an identity.
type Registrar interface {
	RegisterImage(ctx context.Context, identity, payload string) (faceid.Face, error)
}

// Recognizer matches an uploaded image.
type Recognizer interface {
	Recognize(ctx context.Context, payload string) usecase.RecognizeResponse
}

// GalleryLister reports enrolled identities.
type GalleryLister interface {
	CountByIdentity(ctx context.Context) ([]repository.IdentityCount, error)
}

type imageRequest struct {
	Username string `json:"username"`
	Image    string `json:"image"`
}

// Handler serves the enrollment and recognition API.
type Handler struct {
	registrar  Registrar
	recognizer Recognizer
	gallery    GalleryLister
	logger     *zap.Logger
}

func New(registrar Registrar, recognizer Recognizer, gallery GalleryLister, logger *zap.Logger) *Handler {
	return &Handler{
		registrar:  registrar,
		recognizer: recognizer,
		gallery:    gallery,
		logger:     logger.Named("http"),
	}
}

// RegisterRoutes wires the HTTP handlers to the Gin router. guard wraps the
// routes that write to the gallery.
func RegisterRoutes(router *gin.Engine, h *Handler, guard gin.HandlerFunc) {
	if guard == nil {
		guard = func(c *gin.Context) { c.Next() }
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/register", guard, h.register)
	router.POST("/recognize", h.recognize)
	router.GET("/gallery", h.listGallery)
}

func (h *Handler) register(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isBodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	opLogger := logging.WithOperation(h.logger, "http.register", RequestID(c))
	if operator, ok := auth.OperatorFromContext(c.Request.Context()); ok {
		opLogger = opLogger.With(zap.String("operator", operator))
	}

	face, err := h.registrar.RegisterImage(c.Request.Context(), req.Username, req.Image)
	switch {
	case err == nil:
		box := face.BBox.Box()
		opLogger.Info("face registered", zap.String("identity", req.Username))
		c.JSON(http.StatusOK, gin.H{"message": msgFaceSaved, "face_box": box})
	case errors.Is(err, faceid.ErrNoFace):
		c.JSON(http.StatusOK, gin.H{"message": msgNoFace})
	case errors.Is(err, faceid.ErrInvalidIdentity), errors.Is(err, faceid.ErrDecode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, faceid.ErrStorage):
		opLogger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store face"})
	default:
		opLogger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "feature extraction failed"})
	}
}

func (h *Handler) recognize(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, usecase.RecognizeResponse{Name: faceid.Unknown, Error: "No image provided"})
		return
	}
	c.JSON(http.StatusOK, h.recognizer.Recognize(c.Request.Context(), req.Image))
}

func (h *Handler) listGallery(c *gin.Context) {
	counts, err := h.gallery.CountByIdentity(c.Request.Context())
	if err != nil {
		logging.WithOperation(h.logger, "http.gallery", RequestID(c)).Error("failed to list gallery", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list gallery"})
		return
	}

	identities := make([]gin.H, 0, len(counts))
	var total int64
	for _, count := range counts {
		identities = append(identities, gin.H{"name": count.Name, "samples": count.Samples})
		total += count.Samples
	}
	c.JSON(http.StatusOK, gin.H{"identities": identities, "total_samples": total})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

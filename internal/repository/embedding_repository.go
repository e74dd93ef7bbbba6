package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/logging"
)

// EnrollmentRecord is one stored face sample. Several records may share a Name.
type EnrollmentRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:255;not null;index"`
	Embedding []byte    `gorm:"column:embedding;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (EnrollmentRecord) TableName() string {
	return "users"
}

// Sample is a decoded enrollment record.
type Sample struct {
	ID        uint
	Identity  string
	Embedding faceid.Embedding
	CreatedAt time.Time
}

// IdentityCount is the number of samples stored for one identity.
type IdentityCount struct {
	Name    string `gorm:"column:name"`
	Samples int64  `gorm:"column:samples"`
}

// EmbeddingRepository persists enrollment records and enforces the configured
// embedding dimensionality on every read and write.
type EmbeddingRepository struct {
	db             *gorm.DB
	dim            int
	logger         *zap.Logger
	appendMu       sync.Mutex
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	insert         func(ctx context.Context, record *EnrollmentRecord) error
}

// NewEmbeddingRepository creates a new repository instance.
func NewEmbeddingRepository(db *gorm.DB, dim int, logger *zap.Logger) (*EmbeddingRepository, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", faceid.ErrDimensionMismatch, dim)
	}
	r := &EmbeddingRepository{
		db:             db,
		dim:            dim,
		logger:         logger.Named("embedding_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
	r.insert = r.insertRecord
	return r, nil
}

// Dimension returns the embedding length the repository accepts.
func (r *EmbeddingRepository) Dimension() int {
	return r.dim
}

// Init ensures the schema is available. It is safe to call repeatedly.
func (r *EmbeddingRepository) Init(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&EnrollmentRecord{}); err != nil {
		return logging.NewOperationError("repository.init", "", fmt.Errorf("%w: %w", faceid.ErrStorage, err))
	}
	return nil
}

// Append stores one sample. Appends are serialized; each insert runs in its
// own transaction so a concurrent LoadAll never sees a partial row.
//
// A timeout may arrive after the server committed the insert, so a retry
// first looks for the row written by the earlier attempt (same name,
// created_at and embedding) and only inserts again when it is absent.
func (r *EmbeddingRepository) Append(ctx context.Context, identity string, embedding faceid.Embedding) error {
	identity, err := faceid.NormalizeIdentity(identity)
	if err != nil {
		return err
	}
	if err := embedding.Validate(r.dim); err != nil {
		return err
	}

	record := &EnrollmentRecord{
		Name:      identity,
		Embedding: embedding.Encode(),
		// Millisecond precision survives every supported driver's timestamp column.
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	r.appendMu.Lock()
	defer r.appendMu.Unlock()

	attempt := 0
	return r.executeWithRetry(ctx, "repository.append", identity, func() error {
		attempt++
		if attempt > 1 {
			stored, err := r.recordExists(ctx, record)
			if err != nil {
				return err
			}
			if stored {
				return nil
			}
		}
		record.ID = 0
		return r.insert(ctx, record)
	})
}

func (r *EmbeddingRepository) insertRecord(ctx context.Context, record *EnrollmentRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
}

func (r *EmbeddingRepository) recordExists(ctx context.Context, record *EnrollmentRecord) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&EnrollmentRecord{}).
		Where("name = ? AND created_at = ? AND embedding = ?", record.Name, record.CreatedAt, record.Embedding).
		Count(&n).Error
	return n > 0, err
}

// LoadAll returns every stored sample ordered by insertion id.
func (r *EmbeddingRepository) LoadAll(ctx context.Context) ([]Sample, error) {
	var rows []EnrollmentRecord
	err := r.executeWithRetry(ctx, "repository.load_all", "", func() error {
		rows = rows[:0]
		return r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(rows))
	for _, row := range rows {
		embedding, err := faceid.DecodeEmbedding(row.Embedding, r.dim)
		if err != nil {
			wrapped := fmt.Errorf("%w: record %d: %w", faceid.ErrStorage, row.ID, err)
			return nil, logging.NewOperationError("repository.load_all", "", wrapped)
		}
		samples = append(samples, Sample{
			ID:        row.ID,
			Identity:  row.Name,
			Embedding: embedding,
			CreatedAt: row.CreatedAt,
		})
	}
	return samples, nil
}

// CountByIdentity reports how many samples each identity has, in first-enrolled order.
func (r *EmbeddingRepository) CountByIdentity(ctx context.Context) ([]IdentityCount, error) {
	var counts []IdentityCount
	err := r.executeWithRetry(ctx, "repository.count_by_identity", "", func() error {
		counts = counts[:0]
		return r.db.WithContext(ctx).
			Model(&EnrollmentRecord{}).
			Select("name, COUNT(*) AS samples, MIN(id) AS first_id").
			Group("name").
			Order("first_id ASC").
			Scan(&counts).Error
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *EmbeddingRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, fmt.Errorf("%w: %w", faceid.ErrStorage, ctx.Err()))
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("storage operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("storage operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			break
		}
		opLogger.Warn("transient storage error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, fmt.Errorf("%w: %w", faceid.ErrStorage, err))
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

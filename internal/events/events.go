// Package events publishes recognition outcomes to interested consumers.
package events

import (
	"context"
	"time"

	"github.com/example/facegate/internal/faceid"
)

// Recognition describes one matched face.
type Recognition struct {
	RequestID string      `json:"request_id"`
	Source    string      `json:"source"`
	Identity  string      `json:"identity"`
	Nearest   string      `json:"nearest,omitempty"`
	Score     float64     `json:"score"`
	Accepted  bool        `json:"accepted"`
	FaceBox   *faceid.Box `json:"face_box,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher delivers recognition events.
type Publisher interface {
	PublishRecognition(ctx context.Context, event Recognition) error
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishRecognition(context.Context, Recognition) error { return nil }

func (Nop) Close() {}

// Package core defines the interfaces shared by the service surfaces.
package core

import (
	"context"

	"github.com/book-expert/gemini-media-service/internal/gemini"
	"github.com/book-expert/gemini-media-service/internal/pipeline"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Analyzer runs analysis jobs and narrates text. *pipeline.Runner is the
// production implementation.
type Analyzer interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
	Speak(ctx context.Context, text string, voice gemini.Voice, credential string) ([]byte, error)
}

var _ Analyzer = (*pipeline.Runner)(nil)

// Package storage persists the full text of captured documents. The similarity index only
// keeps ids; retrieval joins them back to text here.
package storage

import (
	"context"
	"errors"

	"github.com/stritefax/heelixchat/internal/models"
)

// ErrNotFound is returned when a document id is unknown.
var ErrNotFound = errors.New("document not found")

// Storage defines document persistence operations.
type Storage interface {
	// CreateDocument inserts doc, assigning doc.ID when it is 0.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// SaveDocument inserts doc or replaces the document with the same ID.
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
	// GetDocumentText returns at most maxChars characters of the content (all when maxChars <= 0).
	GetDocumentText(ctx context.Context, id int64, maxChars int) (string, error)
	DeleteDocument(ctx context.Context, id int64) error
	// ListDocuments returns documents in ascending id order.
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}

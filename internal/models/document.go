// Package models defines the documents, queries and results shared by the store, the
// retrieval engine and the HTTP API.
package models

import (
	"fmt"
	"time"
)

// Document is a captured piece of activity text. ID is the key the similarity index
// stores with each vector.
type Document struct {
	ID        int64                  `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentInput is the input for creating or replacing a document. ID 0 lets the store
// assign one.
type DocumentInput struct {
	ID       int64                  `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the input before it reaches the store.
func (in *DocumentInput) Validate() error {
	if in.Content == "" {
		return fmt.Errorf("content cannot be empty")
	}
	if in.ID < 0 {
		return fmt.Errorf("id must not be negative")
	}
	return nil
}

// Document converts the input to a Document.
func (in *DocumentInput) Document() *Document {
	return &Document{ID: in.ID, Title: in.Title, Content: in.Content, Metadata: in.Metadata}
}

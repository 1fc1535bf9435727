package project

import (
	"crypto/sha1"
	"fmt"
	"time"
)

// Document holds metadata and cached extracted text for a project document.
type Document struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	Tokens      int       `json:"tokens"`
	ModifiedAt  time.Time `json:"modified_at"`
	AddedAt     time.Time `json:"added_at"`
}

// Stale reports whether the file changed since it was added.
func (d *Document) Stale(modTime time.Time) bool {
	return modTime.After(d.ModifiedAt)
}

func contentHash(s string) string {
	sum := sha1.Sum([]byte(s))
	return fmt.Sprintf("%x", sum[:])
}

package interfaces

import (
	"context"
	"time"

	"github.com/mailhoard/mailhoard/internal/models"
)

// AddMessage carries everything a store layout needs to place one
// message.
type AddMessage struct {
	MessageID string
	Raw       []byte
	Folder    string
	Date      *time.Time
	From      string
	To        string
	Cc        string
	Subject   string
	SourceUID uint32
}

// IterFilter narrows store iteration.
type IterFilter struct {
	Folder    string
	StartDate *time.Time
	EndDate   *time.Time
}

// MessageStore abstracts the two on-disk layouts (tree of .eml files,
// single SQLite file). A closed set of two variants.
type MessageStore interface {
	// Add writes the message and returns the path it landed at
	// (relative for the tree layout, the db file for SQLite).
	Add(ctx context.Context, msg *AddMessage) (string, error)
	Get(ctx context.Context, messageID string) (*models.StoredMessage, error)
	Has(ctx context.Context, messageID string) (bool, error)
	// HasContent reports whether a message with these exact bytes is
	// already stored, and where.
	HasContent(ctx context.Context, raw []byte) (string, bool, error)
	Iter(ctx context.Context, filter *IterFilter, fn func(*models.StoredMessage) error) error
	Count(ctx context.Context, folder string) (int64, error)
	Close() error
}

// SearchFilter narrows full-text hits to messages pulled under an
// account and/or folder. The index itself only knows message IDs, so
// the filter is resolved against the UID DB.
type SearchFilter struct {
	Account string
	Folder  string
}

// FTSIndex is the full-text surface over subject/body/from/to.
type FTSIndex interface {
	Insert(messageID, subject, bodyText, fromAddr, toAddr string) error
	Search(ctx context.Context, query string, limit, offset int, filter *SearchFilter) ([]SearchHit, error)
	Count() (uint64, error)
	Close() error
}

// SearchHit is one ranked full-text match.
type SearchHit struct {
	MessageID string
	Score     float64
}

package threads

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"

	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/models"
)

const maxSlugAttempts = 1000

// SlugTaken reports whether slug is already bound to a different
// thread root.
type SlugTaken func(slug, rootID string) bool

// Slug derives a short stable handle for a thread root: URL-safe
// base64 of the first 48 bits of SHA-256 of the root message-id. On
// collision the underlying integer is incremented until free; after
// 1000 attempts the full 16-hex prefix is used instead.
func Slug(rootID string, taken SlugTaken) string {
	sum := sha256.Sum256([]byte(rootID))

	var buf [8]byte
	copy(buf[2:], sum[:6])
	n := binary.BigEndian.Uint64(buf[:])

	for i := 0; i < maxSlugAttempts; i++ {
		binary.BigEndian.PutUint64(buf[:], n)
		slug := base64.RawURLEncoding.EncodeToString(buf[2:])
		if taken == nil || !taken(slug, rootID) {
			return slug
		}
		n = (n + 1) & 0xFFFFFFFFFFFF
	}
	return hex.EncodeToString(sum[:8])
}

// Service answers thread queries over the UID DB.
type Service struct {
	repo interfaces.PulledMessageRepository
}

func NewService(repo interfaces.PulledMessageRepository) *Service {
	return &Service{repo: repo}
}

// Thread returns the member messages for messageID: itself, direct
// replies, and anything whose references chain contains it, date
// ascending.
func (s *Service) Thread(ctx context.Context, messageID string) ([]models.PulledMessage, error) {
	return s.repo.GetThreadMembers(ctx, messageID)
}

// Replies returns only direct replies.
func (s *Service) Replies(ctx context.Context, messageID string) ([]models.PulledMessage, error) {
	return s.repo.GetReplies(ctx, messageID)
}

// Root walks In-Reply-To upward to the first message with no known
// parent. Cycles and gaps stop the walk at the last resolvable hop.
func (s *Service) Root(ctx context.Context, messageID string) (string, error) {
	current := messageID
	seen := map[string]bool{current: true}

	for i := 0; i < 100; i++ {
		msg, err := s.repo.GetByMessageID(ctx, current)
		if err != nil {
			return "", err
		}
		if msg == nil || msg.InReplyTo == "" || seen[msg.InReplyTo] {
			return current, nil
		}
		parent, err := s.repo.GetByMessageID(ctx, msg.InReplyTo)
		if err != nil {
			return "", err
		}
		if parent == nil {
			return current, nil
		}
		seen[msg.InReplyTo] = true
		current = msg.InReplyTo
	}
	return current, nil
}

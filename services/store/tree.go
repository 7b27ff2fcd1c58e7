package store

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/utils"
	"github.com/mailhoard/mailhoard/services/pathtemplate"
)

// ContentLookup resolves message identity to a relative path inside
// the tree. The file index supplies it in production; tests use maps.
type ContentLookup interface {
	PathByMessageID(messageID string) (string, error)
	PathByContentHash(hash string) (string, error)
}

// TreeStore lays messages out as .eml files under the working tree,
// at template-rendered paths.
type TreeStore struct {
	root     string
	template string
	lookup   ContentLookup
	log      logger.Logger
}

func NewTreeStore(root, template string, lookup ContentLookup, log logger.Logger) (*TreeStore, error) {
	tpl, err := pathtemplate.Resolve(template)
	if err != nil {
		return nil, err
	}
	return &TreeStore{root: root, template: tpl, lookup: lookup, log: log}, nil
}

var _ interfaces.MessageStore = (*TreeStore)(nil)

func (s *TreeStore) Add(ctx context.Context, msg *interfaces.AddMessage) (string, error) {
	relPath, err := s.renderPath(msg)
	if err != nil {
		return "", err
	}

	relPath, err = s.writeUnique(relPath, msg.Raw)
	if err != nil {
		return "", err
	}
	return relPath, nil
}

func (s *TreeStore) renderPath(msg *interfaces.AddMessage) (string, error) {
	return pathtemplate.Render(s.template, pathtemplate.Vars{
		Folder:  msg.Folder,
		Raw:     msg.Raw,
		Date:    msg.Date,
		Subject: msg.Subject,
		From:    msg.From,
		UID:     msg.SourceUID,
	})
}

// writeUnique writes raw at relPath atomically. An existing file with
// the same bytes is reused; a different file at the same path pushes
// the new one to a numbered sibling.
func (s *TreeStore) writeUnique(relPath string, raw []byte) (string, error) {
	candidate := relPath
	ext := filepath.Ext(relPath)
	base := strings.TrimSuffix(relPath, ext)

	for n := 1; ; n++ {
		full := filepath.Join(s.root, candidate)
		existing, err := os.ReadFile(full)
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return "", &mailhoard_errors.WriteError{Path: candidate, Err: err}
		}
		if bytes.Equal(existing, raw) {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
	}

	full := filepath.Join(s.root, candidate)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", &mailhoard_errors.WriteError{Path: candidate, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".mailhoard-*")
	if err != nil {
		return "", &mailhoard_errors.WriteError{Path: candidate, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &mailhoard_errors.WriteError{Path: candidate, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &mailhoard_errors.WriteError{Path: candidate, Err: err}
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", &mailhoard_errors.WriteError{Path: candidate, Err: err}
	}
	return candidate, nil
}

func (s *TreeStore) Get(ctx context.Context, messageID string) (*models.StoredMessage, error) {
	relPath, err := s.lookup.PathByMessageID(messageID)
	if err != nil {
		return nil, err
	}
	if relPath == "" {
		return nil, nil
	}
	return s.readMessage(relPath)
}

func (s *TreeStore) Has(ctx context.Context, messageID string) (bool, error) {
	relPath, err := s.lookup.PathByMessageID(messageID)
	if err != nil {
		return false, err
	}
	if relPath == "" {
		return false, nil
	}
	_, err = os.Stat(filepath.Join(s.root, relPath))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *TreeStore) HasContent(ctx context.Context, raw []byte) (string, bool, error) {
	relPath, err := s.lookup.PathByContentHash(utils.ContentHash(raw))
	if err != nil {
		return "", false, err
	}
	if relPath == "" {
		return "", false, nil
	}
	if _, err := os.Stat(filepath.Join(s.root, relPath)); os.IsNotExist(err) {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return relPath, true, nil
}

func (s *TreeStore) Iter(ctx context.Context, filter *interfaces.IterFilter, fn func(*models.StoredMessage) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == config.StateDirName || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".eml") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		msg, err := s.readMessage(relPath)
		if err != nil {
			// Unreadable files are skipped, matching the indexer.
			s.log.Warnf("skipping %s: %v", relPath, err)
			return nil
		}
		if !matchesFilter(msg, filter) {
			return nil
		}
		return fn(msg)
	})
}

func (s *TreeStore) Count(ctx context.Context, folder string) (int64, error) {
	var count int64
	err := s.Iter(ctx, &interfaces.IterFilter{Folder: folder}, func(*models.StoredMessage) error {
		count++
		return nil
	})
	return count, err
}

func (s *TreeStore) Close() error { return nil }

// readMessage loads one .eml file and lifts its metadata the same way
// the file indexer does.
func (s *TreeStore) readMessage(relPath string) (*models.StoredMessage, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, relPath))
	if err != nil {
		return nil, err
	}

	msg := &models.StoredMessage{
		Raw:         raw,
		ContentHash: utils.ContentHash(raw),
		Folder:      folderFromPath(relPath),
		Size:        int64(len(raw)),
		Path:        filepath.ToSlash(relPath),
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, &mailhoard_errors.ParseError{Path: relPath, Err: err}
	}
	msg.MessageID = utils.NormalizeMessageID(env.GetHeader("Message-Id"))
	if msg.MessageID == "" {
		msg.MessageID = utils.SyntheticMessageID(msg.ContentHash)
	}
	msg.FromAddr = env.GetHeader("From")
	msg.ToAddr = env.GetHeader("To")
	msg.Cc = env.GetHeader("Cc")
	msg.Subject = env.GetHeader("Subject")
	if raw := env.GetHeader("Date"); raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			utc := t.UTC()
			msg.Date = &utc
		}
	}
	return msg, nil
}

// folderFromPath takes the directory prefix up to the first
// date-looking segment as the message folder.
func folderFromPath(relPath string) string {
	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir == "." {
		return ""
	}
	segments := strings.Split(dir, "/")
	for i, seg := range segments {
		if len(seg) == 4 && isDigits(seg) {
			return strings.Join(segments[:i], "/")
		}
		if len(seg) == 2 && isHex(seg) && i == len(segments)-1 {
			return strings.Join(segments[:i], "/")
		}
	}
	return dir
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return s != ""
}

func matchesFilter(msg *models.StoredMessage, filter *interfaces.IterFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Folder != "" && msg.Folder != filter.Folder &&
		!strings.HasPrefix(msg.Folder, filter.Folder+"/") {
		return false
	}
	if filter.StartDate != nil && (msg.Date == nil || msg.Date.Before(*filter.StartDate)) {
		return false
	}
	if filter.EndDate != nil && (msg.Date == nil || !msg.Date.Before(*filter.EndDate)) {
		return false
	}
	return true
}

package fileindex

import (
	"bytes"
	"context"
	"net/mail"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"

	"github.com/mailhoard/mailhoard/config"
	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/interfaces"
	"github.com/mailhoard/mailhoard/internal/logger"
	"github.com/mailhoard/mailhoard/internal/models"
	"github.com/mailhoard/mailhoard/internal/utils"
)

const metaKeyHead = "git_head"

// Stats summarizes the index for the status command and dashboard.
type Stats struct {
	Files     int64
	TotalSize int64
	Head      string
}

// Service maintains the files table: an O(1) lookup from message_id or
// content_hash to the .eml path under the store root.
type Service struct {
	root string
	repo interfaces.FileIndexRepository
	log  logger.Logger
}

func NewService(root string, repo interfaces.FileIndexRepository, log logger.Logger) *Service {
	return &Service{root: root, repo: repo, log: log}
}

// IndexFile reads and indexes one .eml by its path relative to the
// store root. The engine calls this after every successful write.
func (s *Service) IndexFile(ctx context.Context, relPath string) error {
	full := filepath.Join(s.root, relPath)
	raw, err := os.ReadFile(full)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return err
	}

	file := &models.IndexedFile{
		Path:        filepath.ToSlash(relPath),
		ContentHash: utils.ContentHash(raw),
		Size:        int64(len(raw)),
		Mtime:       info.ModTime().UTC(),
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return &mailhoard_errors.ParseError{Path: relPath, Err: err}
	}
	file.MessageID = utils.NormalizeMessageID(env.GetHeader("Message-Id"))
	if file.MessageID == "" {
		file.MessageID = utils.SyntheticMessageID(file.ContentHash)
	}
	file.FromAddr = env.GetHeader("From")
	file.ToAddr = env.GetHeader("To")
	file.Subject = env.GetHeader("Subject")
	if d := env.GetHeader("Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			utc := t.UTC()
			file.Date = &utc
		}
	}

	return s.repo.Upsert(ctx, file)
}

// Rebuild drops the index and re-derives it from every .eml under the
// root. Unparseable files are counted as skipped and the walk goes on.
func (s *Service) Rebuild(ctx context.Context) (indexed, skipped int64, err error) {
	if err := s.repo.Truncate(ctx); err != nil {
		return 0, 0, err
	}

	err = filepath.WalkDir(s.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
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
		if err := s.IndexFile(ctx, relPath); err != nil {
			var pe *mailhoard_errors.ParseError
			if errors.As(err, &pe) {
				s.log.Warnf("skipping unparseable %s: %v", relPath, err)
				skipped++
				return nil
			}
			return err
		}
		indexed++
		return nil
	})
	if err != nil {
		return indexed, skipped, err
	}

	if head, headErr := s.gitHead(); headErr == nil && head != "" {
		if err := s.repo.SetMeta(ctx, metaKeyHead, head); err != nil {
			return indexed, skipped, err
		}
	}
	return indexed, skipped, nil
}

// Update re-indexes only .eml paths the version-control tool reports
// as changed since the recorded HEAD, plus untracked files. Without a
// usable git state it falls back to a full rebuild.
func (s *Service) Update(ctx context.Context) (indexed, removed int64, err error) {
	lastHead, err := s.repo.GetMeta(ctx, metaKeyHead)
	if err != nil {
		return 0, 0, err
	}
	head, headErr := s.gitHead()
	if lastHead == "" || headErr != nil || head == "" {
		idx, _, err := s.Rebuild(ctx)
		return idx, 0, err
	}

	changed, deleted, err := s.gitChangedPaths(lastHead)
	if err != nil {
		return 0, 0, err
	}

	for _, relPath := range changed {
		if err := ctx.Err(); err != nil {
			return indexed, removed, err
		}
		if err := s.IndexFile(ctx, relPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			var pe *mailhoard_errors.ParseError
			if errors.As(err, &pe) {
				s.log.Warnf("skipping unparseable %s: %v", relPath, err)
				continue
			}
			return indexed, removed, err
		}
		indexed++
	}
	for _, relPath := range deleted {
		if err := s.repo.Delete(ctx, filepath.ToSlash(relPath)); err != nil {
			return indexed, removed, err
		}
		removed++
	}

	if err := s.repo.SetMeta(ctx, metaKeyHead, head); err != nil {
		return indexed, removed, err
	}
	return indexed, removed, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	size, err := s.repo.TotalSize(ctx)
	if err != nil {
		return nil, err
	}
	head, err := s.repo.GetMeta(ctx, metaKeyHead)
	if err != nil {
		return nil, err
	}
	return &Stats{Files: count, TotalSize: size, Head: head}, nil
}

// PathByMessageID satisfies the content-lookup surface the tree store
// needs.
func (s *Service) PathByMessageID(messageID string) (string, error) {
	file, err := s.repo.GetByMessageID(context.Background(), messageID)
	if err != nil || file == nil {
		return "", err
	}
	return file.Path, nil
}

func (s *Service) PathByContentHash(hash string) (string, error) {
	file, err := s.repo.GetByContentHash(context.Background(), hash)
	if err != nil || file == nil {
		return "", err
	}
	return file.Path, nil
}

func (s *Service) gitHead() (string, error) {
	out, err := s.git("rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// gitChangedPaths returns .eml paths touched between since and HEAD,
// split into still-present and deleted, plus untracked files.
func (s *Service) gitChangedPaths(since string) (changed, deleted []string, err error) {
	diff, err := s.git("diff", "--name-status", since, "HEAD", "--", "*.eml")
	if err != nil {
		return nil, nil, err
	}
	for _, line := range strings.Split(diff, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		status, path := fields[0], fields[len(fields)-1]
		if !strings.HasSuffix(path, ".eml") {
			continue
		}
		if strings.HasPrefix(status, "D") {
			deleted = append(deleted, path)
		} else {
			changed = append(changed, path)
		}
	}

	untracked, err := s.git("ls-files", "--others", "--exclude-standard", "--", "*.eml")
	if err != nil {
		return nil, nil, err
	}
	for _, path := range strings.Split(untracked, "\n") {
		path = strings.TrimSpace(path)
		if path != "" && strings.HasSuffix(path, ".eml") {
			changed = append(changed, path)
		}
	}
	return changed, deleted, nil
}

func (s *Service) git(args ...string) (string, error) {
	cmd := exec.Command("git", append([]string{"-C", s.root}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "git %s", strings.Join(args, " "))
	}
	return out.String(), nil
}

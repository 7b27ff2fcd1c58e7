package pushlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mailhoard/mailhoard/internal/utils"
	"github.com/mailhoard/mailhoard/services/pathtemplate"
)

// Manifest is the per-account set of message_ids already appended to
// the destination. It lives as a sorted newline file so Git diffs show
// exactly the ids that were added.
type Manifest struct {
	path string
	ids  map[string]bool
}

func ManifestPath(dir, account string) string {
	return filepath.Join(dir, pathtemplate.Sanitize(account, 0)+".txt")
}

// LoadManifest reads the manifest; a missing file is an empty set.
func LoadManifest(dir, account string) (*Manifest, error) {
	m := &Manifest{path: ManifestPath(dir, account), ids: map[string]bool{}}

	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			m.ids[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) Contains(messageID string) bool { return m.ids[messageID] }

func (m *Manifest) Add(messageID string) { m.ids[messageID] = true }

func (m *Manifest) Len() int { return len(m.ids) }

// Save rewrites the whole file sorted. Only one engine runs per
// working tree, so read-modify-write is safe.
func (m *Manifest) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}

	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id)
		b.WriteByte('\n')
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// UploadRecord is one line of the append-only uploads log, feeding the
// "recently uploaded" dashboard view.
type UploadRecord struct {
	Timestamp time.Time
	Account   string
	MessageID string
	Subject   string
	Path      string
}

func uploadsLogPath(dir string) string {
	return filepath.Join(dir, "uploads.log")
}

// AppendUpload records one successful APPEND. Tab-separated so subjects
// with spaces survive.
func AppendUpload(dir string, rec UploadRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = utils.Now()
	}

	f, err := os.OpenFile(uploadsLogPath(dir), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\n",
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Account,
		rec.MessageID,
		sanitizeField(rec.Subject),
		rec.Path)
	_, err = f.WriteString(line)
	return err
}

// RecentUploads returns the newest records, newest first.
func RecentUploads(dir string, limit int) ([]UploadRecord, error) {
	f, err := os.Open(uploadsLogPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []UploadRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 5)
		if len(parts) < 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, parts[0])
		if err != nil {
			continue
		}
		rec := UploadRecord{Timestamp: ts, Account: parts[1], MessageID: parts[2]}
		if len(parts) > 3 {
			rec.Subject = parts[3]
		}
		if len(parts) > 4 {
			rec.Path = parts[4]
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// newest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func sanitizeField(s string) string {
	return strings.NewReplacer("\t", " ", "\n", " ", "\r", " ").Replace(s)
}

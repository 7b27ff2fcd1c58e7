package failures

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailhoard/mailhoard/internal/utils"
	"github.com/mailhoard/mailhoard/services/pathtemplate"
)

// Entry is one retriable per-UID failure.
type Entry struct {
	Error     string    `yaml:"error"`
	Timestamp time.Time `yaml:"timestamp"`
}

// Log is the failure file for one (account, folder). Entries are added
// on failure and removed on success; --retry attempts exactly the UIDs
// in here.
type Log struct {
	path    string
	entries map[uint32]Entry
}

// FilePath is failures/<account>_<folder>.yaml with both parts made
// path-safe.
func FilePath(dir, account, folder string) string {
	name := fmt.Sprintf("%s_%s.yaml",
		pathtemplate.Sanitize(account, 0), pathtemplate.Sanitize(folder, 0))
	return filepath.Join(dir, name)
}

// Load reads the failure log; a missing file is an empty log.
func Load(dir, account, folder string) (*Log, error) {
	l := &Log{
		path:    FilePath(dir, account, folder),
		entries: map[uint32]Entry{},
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &l.entries); err != nil {
		return nil, fmt.Errorf("failed to parse failure log %s: %w", l.path, err)
	}
	return l, nil
}

func (l *Log) Record(uid uint32, errMsg string) {
	l.entries[uid] = Entry{Error: errMsg, Timestamp: utils.Now()}
}

func (l *Log) Remove(uid uint32) {
	delete(l.entries, uid)
}

func (l *Log) Has(uid uint32) bool {
	_, ok := l.entries[uid]
	return ok
}

func (l *Log) Len() int { return len(l.entries) }

func (l *Log) Path() string { return l.path }

// UIDs returns the failed UIDs in ascending order.
func (l *Log) UIDs() []uint32 {
	uids := make([]uint32, 0, len(l.entries))
	for uid := range l.entries {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

// Save rewrites the file sorted by uid so diffs stay stable. An empty
// log removes the file.
func (l *Log) Save() error {
	if len(l.entries) == 0 {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}

	var doc yaml.Node
	doc.Kind = yaml.MappingNode
	for _, uid := range l.UIDs() {
		entry := l.entries[uid]
		var keyNode, valNode yaml.Node
		keyNode.SetString(fmt.Sprintf("%d", uid))
		keyNode.Tag = "!!int"
		if err := valNode.Encode(entry); err != nil {
			return err
		}
		doc.Content = append(doc.Content, &keyNode, &valNode)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

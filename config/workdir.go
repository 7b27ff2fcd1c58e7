package config

import (
	"os"
	"path/filepath"

	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
)

// StateDirName is the per-working-tree state directory.
const StateDirName = ".eml"

// Paths resolves every well-known file under one working tree. The
// resolved root is passed explicitly through constructors; nothing
// reads it from a global.
type Paths struct {
	Root string
}

// ResolveWorkdir returns the working tree root: the explicit value if
// given, else $MAILHOARD_ROOT, else the nearest ancestor of cwd that
// contains a .eml directory, else cwd itself.
func ResolveWorkdir(explicit string) (Paths, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return Paths{}, mailhoard_errors.NewConfigError("bad workdir", err)
		}
		return Paths{Root: abs}, nil
	}

	if root := os.Getenv("MAILHOARD_ROOT"); root != "" {
		return Paths{Root: root}, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return Paths{}, mailhoard_errors.NewConfigError("cannot resolve cwd", err)
	}

	for dir := cwd; ; dir = filepath.Dir(dir) {
		if info, err := os.Stat(filepath.Join(dir, StateDirName)); err == nil && info.IsDir() {
			return Paths{Root: dir}, nil
		}
		if dir == filepath.Dir(dir) {
			break
		}
	}
	return Paths{Root: cwd}, nil
}

func (p Paths) StateDir() string { return filepath.Join(p.Root, StateDirName) }
func (p Paths) ConfigYAML() string { return filepath.Join(p.StateDir(), "config.yaml") }
func (p Paths) UIDsDB() string { return filepath.Join(p.StateDir(), "uids.db") }
func (p Paths) LegacyPullsDB() string { return filepath.Join(p.StateDir(), "pulls.db") }
func (p Paths) Parquet() string { return filepath.Join(p.StateDir(), "uids.parquet") }
func (p Paths) IndexDB() string { return filepath.Join(p.StateDir(), "index.db") }
func (p Paths) FTSDir() string { return filepath.Join(p.StateDir(), "fts.bleve") }
func (p Paths) MsgsDB() string { return filepath.Join(p.StateDir(), "msgs.db") }
func (p Paths) StatusFile() string { return filepath.Join(p.StateDir(), "sync-status.json") }
func (p Paths) SyncStateDir() string { return filepath.Join(p.StateDir(), "sync-state") }
func (p Paths) PushedDir() string { return filepath.Join(p.StateDir(), "pushed") }
func (p Paths) FailuresDir() string { return filepath.Join(p.StateDir(), "failures") }

// EnsureStateDir creates the .eml directory tree.
func (p Paths) EnsureStateDir() error {
	for _, dir := range []string{p.StateDir(), p.SyncStateDir(), p.PushedDir(), p.FailuresDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

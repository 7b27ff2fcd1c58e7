package pathtemplate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/internal/utils"
)

// Presets resolved before rendering. Anything containing a '$' is used
// verbatim as a raw template.
const (
	PresetDefault = "$folder/$yyyy/$mm/$dd/${hhmmss}_${sha8}_${subj}.eml"
	presetFlat    = "$folder/${yyyy}${mm}${dd}_${hhmmss}_${sha8}_${subj40}.eml"
	presetDaily   = PresetDefault
	presetMonthly = "$folder/$yyyy/$mm/${dd}_${hhmmss}_${sha8}_${subj}.eml"
	presetYearly  = "$folder/$yyyy/${mm}${dd}_${hhmmss}_${sha8}_${subj}.eml"
	presetCompact = "$folder/$yyyy/${mm}${dd}_${sha8}.eml"
	presetHash2   = "$folder/$sha2/${sha}.eml"
	presetVerbose = "$folder/$yyyy/$mm/$dd/${hhmmss}_${sha16}_${from30}_${subj60}.eml"
)

var presets = map[string]string{
	"default":    PresetDefault,
	"flat":       presetFlat,
	"daily":      presetDaily,
	"monthly":    presetMonthly,
	"compact":    presetCompact,
	"hash2":      presetHash2,
	"verbose":    presetVerbose,
	"tree:flat":  presetFlat,
	"tree:month": presetMonthly,
	"tree:day":   presetDaily,
	"tree:year":  presetYearly,
	"tree:hash2": presetHash2,
}

// Resolve maps a preset name to its template. Raw templates (anything
// with a '$') pass through; an empty name means the default preset.
// "sqlite" is not a template and is rejected here.
func Resolve(name string) (string, error) {
	if name == "" {
		return PresetDefault, nil
	}
	if strings.Contains(name, "$") {
		return name, nil
	}
	if tpl, ok := presets[strings.ToLower(name)]; ok {
		return tpl, nil
	}
	return "", mailhoard_errors.NewConfigError(
		fmt.Sprintf("layout %q", name), mailhoard_errors.ErrUnknownLayout)
}

// Vars carries everything a template may reference for one message.
type Vars struct {
	Folder  string
	Raw     []byte
	Date    *time.Time
	Subject string
	From    string
	UID     uint32
}

// Render expands the template for one message. Undefined variables are
// a fatal error. A nil date falls back to the render-time wall clock,
// so undated messages still land in a consistent place.
func Render(template string, v Vars) (string, error) {
	sum := sha256.Sum256(v.Raw)
	sha := hex.EncodeToString(sum[:])

	date := utils.Now()
	if v.Date != nil {
		date = v.Date.UTC()
	}

	vals := map[string]string{
		"folder": sanitizeFolder(v.Folder),
		"sha":    sha,
		"sha2":   sha[:2],
		"sha4":   sha[:4],
		"sha8":   sha[:8],
		"sha16":  sha[:16],
		"sha32":  sha[:32],
		"yyyy":   date.Format("2006"),
		"yy":     date.Format("06"),
		"mm":     date.Format("01"),
		"dd":     date.Format("02"),
		"hh":     date.Format("15"),
		"MM":     date.Format("04"),
		"ss":     date.Format("05"),
		"hhmm":   date.Format("1504"),
		"hhmmss": date.Format("150405"),
		"subj":   Sanitize(v.Subject, 0),
		"subj10": Sanitize(v.Subject, 10),
		"subj20": Sanitize(v.Subject, 20),
		"subj40": Sanitize(v.Subject, 40),
		"subj60": Sanitize(v.Subject, 60),
		"from":   Sanitize(v.From, 0),
		"from10": Sanitize(v.From, 10),
		"from30": Sanitize(v.From, 30),
		"uid":    strconv.FormatUint(uint64(v.UID), 10),
	}

	var unknown []string
	out := os.Expand(template, func(name string) string {
		if val, ok := vals[name]; ok {
			return val
		}
		unknown = append(unknown, name)
		return ""
	})
	if len(unknown) > 0 {
		return "", mailhoard_errors.NewConfigError(
			fmt.Sprintf("template %q: unknown variable(s) %s",
				template, strings.Join(unknown, ", ")), nil)
	}
	return out, nil
}

// sanitizeFolder keeps the folder hierarchy but cleans each segment.
// IMAP delimiters other than '/' become path separators too.
func sanitizeFolder(folder string) string {
	folder = strings.NewReplacer("\\", "/", ".", "/").Replace(folder)
	segments := strings.Split(folder, "/")
	out := segments[:0]
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		out = append(out, Sanitize(seg, 0))
	}
	if len(out) == 0 {
		return "_"
	}
	return strings.Join(out, "/")
}

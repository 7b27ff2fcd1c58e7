package pathtemplate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"Hello World", 0, "hello_world"},
		{"Re: Re: Fwd: Budget?", 0, "budget"},
		{"FW: quarterly report!!", 0, "quarterly_report"},
		{"  --weird--  name--  ", 0, "weird_name"},
		{"Ünïcode Sübject", 0, "n_code_s_bject"},
		{"a very long subject line here", 10, "a_very_lon"},
		{"underscore_cut____", 14, "underscore_cut"},
		{"", 0, "_"},
		{"Re:", 0, "_"},
		{"???", 5, "_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in, tt.maxLen), "input %q", tt.in)
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"Re: Fwd: Some [urgent] subject!",
		"alice@example.com",
		"   ",
		"already_clean",
	}
	for _, in := range inputs {
		once := Sanitize(in, 20)
		assert.Equal(t, once, Sanitize(once, 20), "input %q", in)
	}
}

func TestResolve(t *testing.T) {
	tpl, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, PresetDefault, tpl)

	tpl, err = Resolve("tree:month")
	require.NoError(t, err)
	assert.Contains(t, tpl, "$yyyy/$mm")

	raw := "$folder/custom/${sha4}.eml"
	tpl, err = Resolve(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, tpl)

	_, err = Resolve("no-such-preset")
	assert.Error(t, err)
}

func TestRender_Default(t *testing.T) {
	raw := []byte("From: a@b.c\r\n\r\nbody")
	sum := sha256.Sum256(raw)
	sha8 := hex.EncodeToString(sum[:])[:8]

	date := time.Date(2024, 3, 7, 14, 5, 9, 0, time.UTC)
	path, err := Render(PresetDefault, Vars{
		Folder:  "INBOX",
		Raw:     raw,
		Date:    &date,
		Subject: "Re: Hello World",
		From:    "alice@example.com",
		UID:     42,
	})
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("inbox/2024/03/07/140509_%s_hello_world.eml", sha8),
		path)
}

func TestRender_Idempotent(t *testing.T) {
	date := time.Date(2023, 12, 31, 23, 59, 58, 0, time.UTC)
	v := Vars{Folder: "Archive/2023", Raw: []byte("x"), Date: &date, Subject: "s", From: "f", UID: 1}

	first, err := Render(PresetDefault, v)
	require.NoError(t, err)
	second, err := Render(PresetDefault, v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_UnknownVariable(t *testing.T) {
	_, err := Render("$folder/$nope.eml", Vars{Folder: "INBOX", Raw: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRender_MissingDateUsesWallClock(t *testing.T) {
	before := time.Now().UTC().Format("2006")
	path, err := Render("$yyyy/${sha8}.eml", Vars{Raw: []byte("x")})
	require.NoError(t, err)
	assert.Contains(t, path, before)
}

func TestRender_FolderHierarchy(t *testing.T) {
	path, err := Render("$folder/${sha8}.eml", Vars{
		Folder: "[Gmail]/All Mail",
		Raw:    []byte("x"),
	})
	require.NoError(t, err)
	assert.Contains(t, path, "gmail/all_mail/")
}

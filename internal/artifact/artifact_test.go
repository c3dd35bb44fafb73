package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-translate/internal/lang"
)

func testLayout(t *testing.T) Layout {
	t.Helper()
	root := t.TempDir()
	return Layout{
		TempDir:   filepath.Join(root, "temp"),
		OutputDir: filepath.Join(root, "output"),
		TTSDir:    filepath.Join(root, "output", "tts"),
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	layout := testLayout(t)
	for i := 0; i < 2; i++ {
		if err := layout.Ensure(); err != nil {
			t.Fatalf("ensure #%d: %v", i, err)
		}
	}
	for _, dir := range []string{layout.TempDir, layout.OutputDir, layout.TTSDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s", dir)
		}
	}
}

func TestRunIDFormatAndOrdering(t *testing.T) {
	n := NewNamer(testLayout(t))
	base := time.Date(2025, 3, 9, 23, 59, 58, 0, time.Local)
	var ids []string
	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		n.clock = func() time.Time { return now }
		ids = append(ids, string(n.NewRunID()))
	}
	if !strings.HasPrefix(ids[0], "20250309_235958_") {
		t.Fatalf("unexpected run id %s", ids[0])
	}
	if !strings.HasPrefix(ids[2], "20250310_000000_") {
		t.Fatalf("unexpected run id %s", ids[2])
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("run ids not chronologically sorted: %v", ids)
	}
}

func TestRunIDUniqueWithinSecond(t *testing.T) {
	n := NewNamer(testLayout(t))
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.Local)
	n.clock = func() time.Time { return fixed }
	seen := make(map[RunID]struct{})
	for i := 0; i < 500; i++ {
		id := n.NewRunID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate run id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestPaths(t *testing.T) {
	layout := testLayout(t)
	n := NewNamer(layout)
	id := RunID("20250101_120000_abcd1234")

	cases := []struct {
		role Role
		want string
	}{
		{RoleTempRaw, filepath.Join(layout.TempDir, "20250101_120000_abcd1234.upload")},
		{RoleTempWAV, filepath.Join(layout.TempDir, "20250101_120000_abcd1234.wav")},
		{RoleTempVoice, filepath.Join(layout.TempDir, "20250101_120000_abcd1234_voice.wav")},
		{RoleTranscript, filepath.Join(layout.OutputDir, "20250101_120000_abcd1234.txt")},
		{RoleTTSOutput, filepath.Join(layout.TTSDir, "tts_20250101_120000_abcd1234_mr.wav")},
	}
	for _, tc := range cases {
		got, err := n.Path(id, tc.role, lang.Marathi)
		if err != nil {
			t.Fatalf("%s: %v", tc.role, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.role, got, tc.want)
		}
		if tc.role.Temporary() != (filepath.Dir(got) == layout.TempDir) {
			t.Fatalf("%s: temporary flag disagrees with placement", tc.role)
		}
	}
}

func TestTTSPathEmbedsLanguage(t *testing.T) {
	n := NewNamer(testLayout(t))
	id := RunID("20250101_120000_abcd1234")
	mr, _ := n.Path(id, RoleTTSOutput, lang.Marathi)
	gu, _ := n.Path(id, RoleTTSOutput, lang.Gujarati)
	if mr == gu {
		t.Fatal("expected distinct paths per language")
	}
	if !strings.HasSuffix(gu, "_gu.wav") {
		t.Fatalf("unexpected gujarati path %s", gu)
	}
	if _, err := n.Path(id, RoleTTSOutput, lang.LanguageUnknown); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestPathRejectsBadInput(t *testing.T) {
	n := NewNamer(testLayout(t))
	if _, err := n.Path("../escape", RoleTempRaw, lang.Marathi); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := n.Path("20250101_120000_abcd1234", Role(99), lang.Marathi); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestResolveTTSFile(t *testing.T) {
	dir := "/srv/output/tts"
	got, err := ResolveTTSFile(dir, "tts_20250101_120000_abcd1234_mr.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(dir, "tts_20250101_120000_abcd1234_mr.wav") {
		t.Fatalf("unexpected path %s", got)
	}
	for _, bad := range []string{"", "..", "../secret.wav", "tts_../../x.wav", `tts_a\b.wav`, "notes.txt", "tts_x.txt", "other.wav"} {
		if _, err := ResolveTTSFile(dir, bad); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("ResolveTTSFile(%q): expected ErrInvalidName, got %v", bad, err)
		}
	}
}

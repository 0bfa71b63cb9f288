package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestStore(t *testing.T) (FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewUploadStore(dir, "/uploads")
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}
	return store, dir
}

func TestSave_ContentRoundTrip(t *testing.T) {
	store, dir := newTestStore(t)

	content := "binary image bytes"
	path, err := store.Save("card.png", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !strings.HasPrefix(path, "/uploads/") {
		t.Errorf("expected a public path, got %q", path)
	}
	if !strings.HasSuffix(path, "-card.png") {
		t.Errorf("expected the original filename in the reference, got %q", path)
	}

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(path, "/uploads/")))
	if err != nil {
		t.Fatalf("stored file not readable: %v", err)
	}
	if string(stored) != content {
		t.Error("stored content does not match input")
	}
}

func TestProperty_RepeatedSavesNeverCollide(t *testing.T) {
	store, dir := newTestStore(t)

	properties := gopter.NewProperties(nil)

	properties.Property("saving the same filename repeatedly yields distinct assets", prop.ForAll(
		func(filename string, content string) bool {
			first, err := store.Save(filename, strings.NewReader(content))
			if err != nil {
				t.Logf("FAIL: first save failed: %v", err)
				return false
			}
			second, err := store.Save(filename, strings.NewReader(content+"-2"))
			if err != nil {
				t.Logf("FAIL: second save failed: %v", err)
				return false
			}

			if first == second {
				t.Logf("FAIL: colliding references %q", first)
				return false
			}

			// Both assets exist with their own content
			a, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(first, "/uploads/")))
			if err != nil || string(a) != content {
				t.Logf("FAIL: first asset overwritten or unreadable")
				return false
			}
			b, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(second, "/uploads/")))
			return err == nil && string(b) == content+"-2"
		},
		gen.RegexMatch(`[a-z0-9]{1,20}\.(png|jpg|webp)`),
		gen.RegexMatch(`[A-Za-z0-9]{1,64}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestSave_SanitizesPathComponents(t *testing.T) {
	store, dir := newTestStore(t)

	path, err := store.Save("../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if strings.Contains(path, "..") || strings.Contains(strings.TrimPrefix(path, "/uploads/"), "/") {
		t.Errorf("path components leaked into the reference: %q", path)
	}

	// Nothing escaped the upload root
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read upload dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one stored file, got %d", len(entries))
	}
}

func TestSave_FailsOnUnwritableRoot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewUploadStore(dir, "/uploads")
	if err != nil {
		t.Fatalf("failed to create upload store: %v", err)
	}

	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("failed to chmod dir: %v", err)
	}
	defer os.Chmod(dir, 0o755)

	if _, err := store.Save("card.png", strings.NewReader("x")); err == nil {
		t.Error("expected Save to fail on an unwritable root")
	}
}

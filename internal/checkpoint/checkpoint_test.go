package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

type blobModel struct {
	name string
	data []byte
}

func (b *blobModel) Name() string { return b.name }

func (b *blobModel) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), b.data...), nil
}

func (b *blobModel) UnmarshalBinary(data []byte) error {
	b.data = append([]byte(nil), data...)
	return nil
}

func TestSaveAllRestore(t *testing.T) {
	dir := t.TempDir()
	saved := []Model{
		&blobModel{name: "Generator", data: []byte("gen")},
		&blobModel{name: "Discriminator", data: []byte("disc")},
	}
	if err := SaveAll(dir, saved); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	for _, name := range []string{"Generator.pth", "Discriminator.pth"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	gen := &blobModel{name: "Generator"}
	disc := &blobModel{name: "Discriminator"}
	if err := Restore(dir, []Model{gen, disc}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if string(gen.data) != "gen" || string(disc.data) != "disc" {
		t.Fatalf("unexpected restored data %q %q", gen.data, disc.data)
	}
}

func TestRestoreFailsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	if err := SaveAll(dir, []Model{&blobModel{name: "Generator", data: []byte("gen")}}); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	err := Restore(dir, []Model{&blobModel{name: "Generator"}, &blobModel{name: "Discriminator"}})
	if err == nil {
		t.Fatal("expected restore to fail")
	}
	if !errors.Is(err, ErrIncompleteRestore) {
		t.Fatalf("expected ErrIncompleteRestore, got %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m := &blobModel{name: "Classifier", data: []byte("v1")}
	if err := Save(dir, FileName(m), m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	m.data = []byte("v2")
	if err := Save(dir, FileName(m), m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single file, got %d", len(entries))
	}
	got, err := os.ReadFile(filepath.Join(dir, "Classifier.pth"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected overwritten blob, got %q", got)
	}
}

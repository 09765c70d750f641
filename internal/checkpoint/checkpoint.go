// Package checkpoint saves and restores named models as opaque blobs.
package checkpoint

import (
	"encoding"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
)

// Ext is appended to every model name to form its file name.
const Ext = ".pth"

// ErrIncompleteRestore is returned when fewer models were restored than
// requested.
var ErrIncompleteRestore = errors.New("checkpoint: not all models were restored")

// Model is anything that can be written to and read from a checkpoint.
// The blob format belongs to the model; this package never inspects it.
type Model interface {
	Name() string
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// FileName returns the default checkpoint file name for m.
func FileName(m Model) string {
	return m.Name() + Ext
}

// Save writes m to dir/name. The file is replaced atomically.
func Save(dir, name string, m Model) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "checkpoint: marshal %s", m.Name())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "checkpoint: create dir")
	}
	if err := renameio.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return errors.Wrapf(err, "checkpoint: write %s", name)
	}
	return nil
}

// SaveAll writes every model to dir/<name>.pth.
func SaveAll(dir string, models []Model) error {
	for _, m := range models {
		if err := Save(dir, FileName(m), m); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads every model from dir/<name>.pth. Models whose file is
// absent are skipped; if any were skipped the whole restore fails with
// ErrIncompleteRestore.
func Restore(dir string, models []Model) error {
	var missing []string
	restored := 0
	for _, m := range models {
		path := filepath.Join(dir, FileName(m))
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			missing = append(missing, m.Name())
			continue
		}
		if err := RestoreFile(path, m); err != nil {
			return err
		}
		restored++
	}
	if restored != len(models) {
		return errors.Wrapf(ErrIncompleteRestore, "restored %d of %d from %s (missing: %s)",
			restored, len(models), dir, strings.Join(missing, ", "))
	}
	return nil
}

// RestoreFile loads a single model from path.
func RestoreFile(path string, m Model) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "checkpoint: read %s", path)
	}
	if err := m.UnmarshalBinary(data); err != nil {
		return errors.Wrapf(err, "checkpoint: unmarshal %s", path)
	}
	return nil
}

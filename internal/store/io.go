package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"sesame/internal/domain"
)

// WriteBundle exports a prekey bundle as indented JSON.
func WriteBundle(path string, b domain.PreKeyBundle) error {
	return WriteJSON(path, b, 0o644)
}

// ReadBundle imports a bundle written by WriteBundle.
func ReadBundle(path string) (domain.PreKeyBundle, error) {
	var b domain.PreKeyBundle
	if err := ReadJSON(path, &b); err != nil {
		return domain.PreKeyBundle{}, err
	}
	if b.IdentityKey.IsZero() || b.SignedPreKey.PublicKey.IsZero() {
		return domain.PreKeyBundle{}, fmt.Errorf("bundle %s: missing identity or signed prekey", path)
	}
	return b, nil
}

// ReadJSON reads path into out.
func ReadJSON(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// WriteJSON writes JSON via a temp file then rename.
func WriteJSON(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, b, mode)
}

// writeFile writes bytes via a temp file, then atomically replaces the target.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	f, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	// Best-effort cleanup if anything fails before rename.
	defer func() { _ = os.Remove(tmp) }()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

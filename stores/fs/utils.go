package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	acc "github.com/panyam/accounts"
)

// writeAtomicFile writes data to a temp file next to path and renames it
// into place, so readers never see a partial record.
func writeAtomicFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func writeRecord(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(path, data)
}

// readRecord loads one record, acc.ErrRecordNotFound when the file is missing.
func readRecord(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return acc.ErrRecordNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

// scan loads every record in dir that keep accepts. A nil keep accepts all.
func scan[T any](dir string, keep func(*T) bool) ([]*T, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*T
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		var rec T
		if err := readRecord(filepath.Join(dir, e.Name()), &rec); err != nil {
			if errors.Is(err, acc.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		if keep == nil || keep(&rec) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// first returns the first record in dir that keep accepts.
func first[T any](dir string, keep func(*T) bool) (*T, error) {
	all, err := scan(dir, keep)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, acc.ErrRecordNotFound
	}
	return all[0], nil
}

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Upload records one file pushed with put.
type Upload struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Files remembers uploads across sessions, keyed by file id.
type Files struct {
	Uploads map[string]Upload `json:"uploads"`
}

// Record adds or replaces the upload for id.
func (f *Files) Record(id, path string, at time.Time) {
	if f.Uploads == nil {
		f.Uploads = make(map[string]Upload)
	}
	f.Uploads[id] = Upload{ID: id, Path: path, UploadedAt: at}
}

// Forget drops id, typically after the server reports it gone.
func (f *Files) Forget(id string) {
	delete(f.Uploads, id)
}

// List returns uploads, newest first.
func (f *Files) List() []Upload {
	list := make([]Upload, 0, len(f.Uploads))
	for _, u := range f.Uploads {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UploadedAt.Equal(list[j].UploadedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	return list
}

func Load(path string) (Files, error) {
	var st Files
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read file state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse file state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st Files) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create file state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write file state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file state failed: %w", err)
	}
	return nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrNotExist = errors.New("device record does not exist")

// FileStore keeps the device record as a JSON file. Writes replace the file
// atomically.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

func (s *FileStore) Load() (Device, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Device{}, ErrNotExist
	}
	if err != nil {
		return Device{}, fmt.Errorf("read %s: %w", s.Path, err)
	}

	var d Device
	if err := json.Unmarshal(data, &d); err != nil {
		return Device{}, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return d, nil
}

func (s *FileStore) Save(d Device) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode device record: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace %s: %w", s.Path, err)
	}
	return nil
}

// LoadOrCreate returns the stored record, writing def first when none exists.
func (s *FileStore) LoadOrCreate(def Device) (Device, error) {
	if !s.Exists() {
		if err := s.Save(def); err != nil {
			return Device{}, err
		}
		return def, nil
	}
	return s.Load()
}

package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrNotFound        = errors.New("file not found")
)

var (
	CaptureExtensions   = []string{".jpg", ".jpeg", ".png"}
	RecordingExtensions = []string{".wav", ".mp3", ".ogg"}
)

const captureLayout = "20060102_150405.000"

type Entry struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

func hasExtension(name string, exts []string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
}

// List returns the regular files in dir with one of exts, newest first.
// A missing directory is an empty listing.
func List(dir string, exts []string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	files := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasExtension(entry.Name(), exts) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// ModTime stands in for creation time, which is not portable
		files = append(files, Entry{Filename: entry.Name(), Size: info.Size(), Created: info.ModTime()})
	}
	slices.SortStableFunc(files, func(a, b Entry) int {
		if c := b.Created.Compare(a.Created); c != 0 {
			return c
		}
		return strings.Compare(a.Filename, b.Filename)
	})
	return files, nil
}

func validName(name string, exts []string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if !hasExtension(name, exts) {
		return fmt.Errorf("%w: %q has an unsupported extension", ErrInvalidFilename, name)
	}
	return nil
}

// Delete removes one file from dir. Names with path separators are rejected.
func Delete(dir, name string, exts []string) error {
	if err := validName(name, exts); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// SaveCapture writes an encoded image into dir under a timestamped name and returns the name.
func SaveCapture(dir string, data []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create captures dir: %w", err)
	}
	name := fmt.Sprintf("capture_%s.jpg", at.Format(captureLayout))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return "", err
	}
	return name, nil
}

// Usage sums the size of the files in dir with one of exts.
func Usage(dir string, exts []string) (int64, error) {
	files, err := List(dir, exts)
	if err != nil {
		return 0, err
	}
	var size int64
	for _, f := range files {
		size += f.Size
	}
	return size, nil
}

// Prune deletes the oldest files with one of exts until their total size is within limit.
// A non-positive limit disables pruning.
func Prune(dir string, exts []string, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	files, err := List(dir, exts)
	if err != nil {
		return nil, err
	}
	var size int64
	for _, f := range files {
		size += f.Size
	}
	var removed []string
	for i := len(files) - 1; i >= 0 && size > limit; i-- {
		if err := os.Remove(filepath.Join(dir, files[i].Filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		size -= files[i].Size
		removed = append(removed, files[i].Filename)
	}
	return removed, nil
}

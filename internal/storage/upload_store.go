package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore persists binary attachments and hands back the stable public
// reference the stored row will carry.
type FileStore interface {
	Save(filename string, r io.Reader) (string, error)
}

type uploadStore struct {
	dir        string
	publicPath string
}

// NewUploadStore creates a FileStore writing into dir. Stored files are
// addressed under publicPath (e.g. "/uploads").
func NewUploadStore(dir, publicPath string) (FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &uploadStore{dir: dir, publicPath: publicPath}, nil
}

// Save writes the attachment under a timestamp-prefixed name. An existing
// file is never overwritten: the file is opened with O_EXCL, and a
// colliding name gets a uuid inserted before a single retry.
func (s *uploadStore) Save(filename string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), sanitizeFilename(filename))

	path, err := s.write(name, r)
	if os.IsExist(err) {
		name = fmt.Sprintf("%d-%s-%s", time.Now().UnixMilli(), uuid.NewString(), sanitizeFilename(filename))
		path, err = s.write(name, r)
	}
	if err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}

	return path, nil
}

func (s *uploadStore) write(name string, r io.Reader) (string, error) {
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}

	return s.publicPath + "/" + name, nil
}

// sanitizeFilename strips any path components and characters that do not
// belong in a stored asset name.
func sanitizeFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)

	if base == "" || base == "." || base == ".." {
		base = "upload"
	}
	return base
}

// Package storage keeps uploaded profile images on local disk.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("image is too large")
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type ImageStore struct {
	dir      string
	maxBytes int64
}

func NewImageStore(dir string, maxBytes int64) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &ImageStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *ImageStore) Dir() string {
	return s.dir
}

// Save stores the uploaded file under a random name and returns that name.
func (s *ImageStore) Save(fh *multipart.FileHeader) (string, error) {
	if s.maxBytes > 0 && fh.Size > s.maxBytes {
		return "", ErrImageTooLarge
	}

	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]

	ext, ok := imageExtensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedImage
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	reader := io.MultiReader(bytes.NewReader(head), src)
	if s.maxBytes > 0 {
		reader = io.LimitReader(reader, s.maxBytes+1)
	}
	written, err := io.Copy(dst, reader)
	closeErr := dst.Close()
	if err == nil && s.maxBytes > 0 && written > s.maxBytes {
		err = ErrImageTooLarge
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	return name, nil
}

// Remove deletes a stored image. Missing files are ignored.
func (s *ImageStore) Remove(name string) error {
	if name == "" {
		return nil
	}
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid image name %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

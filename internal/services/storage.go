package services

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidLocator = errors.New("invalid storage locator")

// FileStorage keeps uploaded PDFs and extracted images under one root.
// Callers only ever see locators: slash-separated paths relative to root.
type FileStorage struct {
	root string
}

func NewFileStorage(root string) (*FileStorage, error) {
	for _, dir := range []string{"uploads", "images"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("ensure storage dir %s: %w", dir, err)
		}
	}
	return &FileStorage{root: root}, nil
}

func idDir(kind string, conversionID int64) string {
	return kind + "/" + strconv.FormatInt(conversionID, 10)
}

// Path resolves a locator to a filesystem path, rejecting anything that
// would escape the root.
func (s *FileStorage) Path(locator string) (string, error) {
	if locator == "" || strings.Contains(locator, "\\") || filepath.IsAbs(locator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	clean := filepath.Clean(filepath.FromSlash(locator))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FileStorage) write(locator string, src io.Reader) error {
	path, err := s.Path(locator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return out.Close()
}

// SavePDF stores an upload under a fresh name and returns its locator.
func (s *FileStorage) SavePDF(conversionID int64, src io.Reader) (string, error) {
	locator := idDir("uploads", conversionID) + "/" + uuid.NewString() + ".pdf"
	if err := s.write(locator, src); err != nil {
		return "", err
	}
	return locator, nil
}

func validFilename(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`)
}

// SaveImage stores one extracted image and returns its locator.
func (s *FileStorage) SaveImage(conversionID int64, filename string, data []byte) (string, error) {
	if !validFilename(filename) {
		return "", fmt.Errorf("%w: image name %q", ErrInvalidLocator, filename)
	}
	locator := idDir("images", conversionID) + "/" + filename
	if err := s.write(locator, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return locator, nil
}

func (s *FileStorage) Read(locator string) ([]byte, error) {
	path, err := s.Path(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", locator, err)
	}
	return data, nil
}

// ImageLocator is where SaveImage puts filename for a conversion.
func (s *FileStorage) ImageLocator(conversionID int64, filename string) (string, error) {
	if !validFilename(filename) {
		return "", fmt.Errorf("%w: image name %q", ErrInvalidLocator, filename)
	}
	return idDir("images", conversionID) + "/" + filename, nil
}

// ListImages returns the stored image file names of a conversion, sorted.
func (s *FileStorage) ListImages(conversionID int64) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "images", strconv.FormatInt(conversionID, 10)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteImagesZip writes every stored image of a conversion into a zip
// archive on w and returns how many files it contains.
func (s *FileStorage) WriteImagesZip(w io.Writer, conversionID int64) (int, error) {
	names, err := s.ListImages(conversionID)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(w)
	for _, name := range names {
		data, err := s.Read(idDir("images", conversionID) + "/" + name)
		if err != nil {
			return 0, err
		}
		f, err := zw.Create(name)
		if err != nil {
			return 0, fmt.Errorf("zip entry %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			return 0, fmt.Errorf("zip entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zip: %w", err)
	}
	return len(names), nil
}

// DeleteImages removes every stored image of a conversion.
func (s *FileStorage) DeleteImages(conversionID int64) error {
	if err := os.RemoveAll(filepath.Join(s.root, "images", strconv.FormatInt(conversionID, 10))); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return nil
}

// DeleteConversion removes the upload and images of a conversion.
func (s *FileStorage) DeleteConversion(conversionID int64) error {
	if err := os.RemoveAll(filepath.Join(s.root, "uploads", strconv.FormatInt(conversionID, 10))); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return s.DeleteImages(conversionID)
}

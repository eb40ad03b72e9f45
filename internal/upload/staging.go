package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/podushkina/docextract/internal/task"
)

// Staged describes a persisted upload ready for submission.
type Staged struct {
	Path     string
	Filename string
	Size     int64
	MIMEType string
	Pages    int
}

// Stager validates incoming documents and persists them under the
// upload directory until a worker consumes them.
type Stager struct {
	dir     string
	maxSize int64
}

func NewStager(dir string, maxSize int64) (*Stager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Stager{dir: dir, maxSize: maxSize}, nil
}

// Stage validates size and declared MIME type, then writes the
// content to a uniquely named file. The original filename is kept
// only as metadata; it never influences the staged path.
func (s *Stager) Stage(r io.Reader, filename, mimeType string, size int64) (*Staged, error) {
	if size == 0 {
		return nil, fmt.Errorf("empty file uploaded")
	}
	if size > s.maxSize {
		return nil, fmt.Errorf("file size %d exceeds maximum allowed size of %d bytes", size, s.maxSize)
	}

	kind, ok := task.KindFromMIME(mimeType)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", mimeType)
	}

	path := filepath.Join(s.dir, uuid.New().String()+filepath.Ext(filename))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("stage file: %w", err)
	}

	written, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("stage file: %w", err)
	}
	if written > s.maxSize {
		os.Remove(path)
		return nil, fmt.Errorf("file size exceeds maximum allowed size of %d bytes", s.maxSize)
	}

	staged := &Staged{
		Path:     path,
		Filename: filename,
		Size:     written,
		MIMEType: mimeType,
	}

	if kind == task.KindPDF {
		staged.Pages = countPages(path)
	}

	return staged, nil
}

// Discard removes a staged file after a failed submission.
func (s *Stager) Discard(staged *Staged) {
	if staged != nil {
		os.Remove(staged.Path)
	}
}

// countPages reads the PDF page count for metadata. An unreadable
// document yields zero pages; the provider gets the bytes regardless.
func countPages(path string) int {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return r.NumPage()
}

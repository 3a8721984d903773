package uploads

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var (
	ErrUnsupportedType = errors.New("only PDF and JPG files are allowed")
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrBadName         = errors.New("invalid stored file name")
)

var (
	unsafeChars  = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	allowedMime  = regexp.MustCompile(`(?i)pdf|jpe?g`)
	allowedExt   = regexp.MustCompile(`(?i)\.pdf$|\.jpe?g$`)
	maxNameTries = 100
)

// Stored describes a file written by Save.
type Stored struct {
	Name         string
	OriginalName string
	MimeType     string
	Size         int64
}

// Storage keeps uploads as flat files in one directory.
type Storage struct {
	dir      string
	maxBytes int64
	now      func() time.Time
}

func NewStorage(dir string, maxBytes int64) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Storage{dir: dir, maxBytes: maxBytes, now: time.Now}, nil
}

func (s *Storage) Dir() string { return s.dir }

// Sanitize keeps letters, digits, dot, dash and underscore.
func Sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		name = "file"
	}
	return unsafeChars.ReplaceAllString(name, "_")
}

// Allowed reports whether a file may be stored, by declared type or extension.
func Allowed(filename, contentType string) bool {
	return allowedMime.MatchString(contentType) || allowedExt.MatchString(filename)
}

// Save writes the uploaded file as <unix-ms>-<sanitized name>.
func (s *Storage) Save(fh *multipart.FileHeader) (Stored, error) {
	contentType := fh.Header.Get("Content-Type")
	if !Allowed(fh.Filename, contentType) {
		return Stored{}, fmt.Errorf("%w: %s", ErrUnsupportedType, fh.Filename)
	}
	if s.maxBytes > 0 && fh.Size > s.maxBytes {
		return Stored{}, fmt.Errorf("%w: %s", ErrTooLarge, fh.Filename)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename))); byExt != "" {
			contentType = byExt
		}
	}

	src, err := fh.Open()
	if err != nil {
		return Stored{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, name, err := s.create(Sanitize(fh.Filename))
	if err != nil {
		return Stored{}, err
	}

	limit := s.maxBytes
	if limit <= 0 {
		limit = fh.Size
	}
	n, err := io.Copy(dst, io.LimitReader(src, limit+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > limit {
		err = fmt.Errorf("%w: %s", ErrTooLarge, fh.Filename)
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.dir, name))
		if errors.Is(err, ErrTooLarge) {
			return Stored{}, err
		}
		return Stored{}, fmt.Errorf("write upload: %w", err)
	}

	return Stored{
		Name:         name,
		OriginalName: fh.Filename,
		MimeType:     contentType,
		Size:         n,
	}, nil
}

// create opens a new file, bumping the millisecond prefix on collision.
func (s *Storage) create(safe string) (*os.File, string, error) {
	ms := s.now().UnixMilli()
	for i := 0; i < maxNameTries; i++ {
		name := fmt.Sprintf("%d-%s", ms+int64(i), safe)
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create upload: %w", err)
		}
	}
	return nil, "", fmt.Errorf("create upload: no free name for %s", safe)
}

// Remove deletes a stored file. A missing file reports fs.ErrNotExist.
func (s *Storage) Remove(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return ErrBadName
	}
	return os.Remove(filepath.Join(s.dir, name))
}

package uploads

import (
	"bytes"
	"errors"
	"io/fs"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fileHeader(t *testing.T, filename, contentType string, body []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(body)
	mw.Close()

	req := httptest.NewRequest("POST", "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return req.MultipartForm.File["files"][0]
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my scan (1).jpg", "my_scan__1_.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\x-ray.jpeg`, "x-ray.jpeg"},
		{"résumé.pdf", "r_sum_.pdf"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name, ct string
		want     bool
	}{
		{"a.pdf", "application/pdf", true},
		{"a.bin", "image/jpeg", true},
		{"a.JPG", "", true},
		{"a.jpeg", "application/octet-stream", true},
		{"a.png", "image/png", false},
		{"a.exe", "application/octet-stream", false},
	}
	for _, tt := range tests {
		if got := Allowed(tt.name, tt.ct); got != tt.want {
			t.Errorf("Allowed(%q, %q) = %t", tt.name, tt.ct, got)
		}
	}
}

func TestSaveAndRemove(t *testing.T) {
	st, err := NewStorage(filepath.Join(t.TempDir(), "up"), 1024)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	st.now = func() time.Time { return time.UnixMilli(1700000000000) }

	body := []byte("%PDF-1.4 fake")
	first, err := st.Save(fileHeader(t, "lab results.pdf", "application/pdf", body))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Name != "1700000000000-lab_results.pdf" {
		t.Errorf("name: %q", first.Name)
	}
	if first.OriginalName != "lab results.pdf" || first.MimeType != "application/pdf" || first.Size != int64(len(body)) {
		t.Errorf("stored: %+v", first)
	}

	second, err := st.Save(fileHeader(t, "lab results.pdf", "application/pdf", body))
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if second.Name == first.Name {
		t.Fatal("same millisecond must not overwrite an existing file")
	}

	data, err := os.ReadFile(filepath.Join(st.Dir(), first.Name))
	if err != nil || !bytes.Equal(data, body) {
		t.Fatalf("read back: %v %q", err, data)
	}

	if err := st.Remove(first.Name); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := st.Remove(first.Name); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("remove twice: expected not-exist, got %v", err)
	}
	if err := st.Remove("../" + second.Name); !errors.Is(err, ErrBadName) {
		t.Errorf("traversal: expected ErrBadName, got %v", err)
	}
}

func TestSaveRejects(t *testing.T) {
	st, err := NewStorage(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}

	if _, err := st.Save(fileHeader(t, "photo.png", "image/png", []byte("png"))); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("png: expected ErrUnsupportedType, got %v", err)
	}
	if _, err := st.Save(fileHeader(t, "big.pdf", "application/pdf", []byte(strings.Repeat("x", 9)))); !errors.Is(err, ErrTooLarge) {
		t.Errorf("big: expected ErrTooLarge, got %v", err)
	}

	entries, _ := os.ReadDir(st.Dir())
	if len(entries) != 0 {
		t.Errorf("rejected uploads left files: %d", len(entries))
	}
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	ErrFileTooLarge = errors.New("file too large")
	ErrFileType     = errors.New("file type not allowed")
)

// FileValidator checks uploads by size, extension and sniffed content type.
type FileValidator struct {
	allowedExt  map[string]bool
	allowedMime map[string]bool
	maxSize     int64
}

func NewFileValidator(maxSizeMB int, extensions, mimeTypes []string) *FileValidator {
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	v := &FileValidator{
		allowedExt:  make(map[string]bool),
		allowedMime: make(map[string]bool),
		maxSize:     int64(maxSizeMB) << 20,
	}
	for _, ext := range extensions {
		if ext = strings.TrimSpace(strings.ToLower(ext)); ext != "" {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			v.allowedExt[ext] = true
		}
	}
	for _, m := range mimeTypes {
		if m = strings.TrimSpace(strings.ToLower(m)); m != "" {
			v.allowedMime[m] = true
		}
	}
	return v
}

func (v *FileValidator) MaxSize() int64 { return v.maxSize }

// ValidateFile returns the detected content type.
func (v *FileValidator) ValidateFile(fh *multipart.FileHeader) (string, error) {
	if fh.Size > v.maxSize {
		return "", fmt.Errorf("%w (max %d MB)", ErrFileTooLarge, v.maxSize>>20)
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !v.allowedExt[ext] {
		return "", fmt.Errorf("%w: extension %q", ErrFileType, ext)
	}

	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read file header")
	}
	detected := strings.ToLower(http.DetectContentType(buffer[:n]))
	if !v.allowedMime[detected] {
		return "", fmt.Errorf("%w: %s", ErrFileType, detected)
	}
	return detected, nil
}

func contentTypeOr(ct, key string) string {
	if ct != "" {
		return ct
	}
	if byExt := mime.TypeByExtension(filepath.Ext(key)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 64 << 20 // 64MB

// Upload handles POST /api/upload. Files land in the configured upload
// directory under generated identifiers; the client-supplied name only
// contributes a sanitized extension, so names can neither collide nor
// escape the directory.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		Fail(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		Fail(w, http.StatusBadRequest, "no files provided")
		return
	}

	saved := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := h.saveUpload(fh)
		if err != nil {
			Fail(w, http.StatusInternalServerError, err.Error())
			return
		}
		saved = append(saved, path)
	}

	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "files": saved})
}

func (h *Handler) saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer func() { _ = src.Close() }()

	name := uuid.NewString() + sanitizeExt(fh.Filename)
	path := filepath.Join(h.uploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}

// sanitizeExt keeps only a plausible file extension from a client name.
func sanitizeExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "" || ext == "." || len(ext) > 16 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}

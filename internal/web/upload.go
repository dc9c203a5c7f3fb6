package web

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"crowdwatch/internal/annotate"
	"crowdwatch/internal/detect"
	"crowdwatch/internal/logger"
	"crowdwatch/pkg/types"
)

// allowedUploadExts restricts uploads to image files.
var allowedUploadExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
}

// uploadDetector serializes detection calls on uploaded images; the
// backends are not safe for concurrent use.
type uploadDetector struct {
	mu       sync.Mutex
	detector detect.Detector
}

// SetUploadDetector enables the /api/upload endpoint with a dedicated
// detector instance.
func (s *Server) SetUploadDetector(d detect.Detector) {
	s.upload = &uploadDetector{detector: d}
}

// handleUpload runs detection on a posted still image, saves the annotated
// result and returns the boxes.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.upload == nil {
		writeJSONWithStatus(w, map[string]any{"error": "upload detection not available"}, http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxSizeBytes)
	if err := r.ParseMultipartForm(s.cfg.Upload.MaxSizeBytes); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "image too large or malformed form"}, http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "image field required"}, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if ext := strings.ToLower(filepath.Ext(header.Filename)); !allowedUploadExts[ext] {
		writeJSONWithStatus(w, map[string]any{"error": "unsupported file type"}, http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "read upload failed"}, http.StatusBadRequest)
		return
	}

	s.upload.mu.Lock()
	boxes, err := s.upload.detector.Detect(data, s.tuner.Confidence())
	s.upload.mu.Unlock()
	if err != nil {
		logger.Warn("Web", "Upload detection failed for %s: %v", header.Filename, err)
		writeJSONWithStatus(w, map[string]any{"error": "detection failed"}, http.StatusUnprocessableEntity)
		return
	}

	snap := types.Snapshot{
		PersonCount: len(boxes),
		Boxes:       boxes,
		Timestamp:   time.Now(),
	}
	annotated, err := annotate.Overlay(data, snap, s.cfg.Camera.JPEGQuality)
	if err != nil {
		annotated = data
	}

	name := fmt.Sprintf("upload_%d.jpg", time.Now().UnixNano())
	path := filepath.Join(s.cfg.Upload.Dir, name)
	if err := os.WriteFile(path, annotated, 0o644); err != nil {
		logger.Error("Web", "Write annotated upload failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "store result failed"}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"person_count": len(boxes),
		"boxes":        boxes,
		"file":         name,
	})
}

// handleUploadedImage serves a stored annotated upload back by filename.
func (s *Server) handleUploadedImage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		writeJSONWithStatus(w, map[string]any{"error": "invalid filename"}, http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.Upload.Dir, name))
}

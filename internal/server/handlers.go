package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"mediarchive/internal/archive"
	"mediarchive/internal/hash"
	"mediarchive/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

type uploadResponse struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type deployRequest struct {
	Hash   string `json:"hash"`
	Target string `json:"target"`
	Method string `json:"method"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	files, err := s.meta.ListFiles()
	if err != nil {
		s.internalError(w, "list files", err)
		return
	}
	if files == nil {
		files = []store.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleUpload stores the request body as a new object. The body is
// spooled to a temporary file first so it can be hashed and renamed into
// the store without a second copy.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	tmp, err := os.CreateTemp(s.archive.Path(), "upload-*")
	if err != nil {
		s.internalError(w, "create temp file", err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := tmp.ReadFrom(r.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.internalError(w, "spool upload", err)
		return
	}

	h, err := s.archive.StoreFile(tmpPath, true)
	switch {
	case errors.Is(err, archive.ErrExists):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: fmt.Sprintf("object %s already exists", h),
		})
		return
	case err != nil:
		s.internalError(w, "store upload", err)
		return
	}

	mediaType := r.Header.Get("Content-Type")
	if mediaType == "application/octet-stream" {
		mediaType = ""
	}
	if err := s.meta.RecordFile(store.File{Hash: h.String(), Size: size, MediaType: mediaType}); err != nil {
		s.logger.Warn("stored object but failed to record metadata",
			zap.String("hash", h.String()), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Hash: h.String(), Size: size})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	h, ok := s.pathHash(w, r)
	if !ok {
		return
	}

	if f, err := s.meta.GetFile(h.String()); err == nil && f.MediaType != "" {
		w.Header().Set("Content-Type", f.MediaType)
	}

	path := s.archive.StoredFilePath(h)
	if _, err := os.Stat(path); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: fmt.Sprintf("object %s not found", h),
		})
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	h, ok := s.pathHash(w, r)
	if !ok {
		return
	}

	err := s.archive.RemoveFile(h)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: fmt.Sprintf("object %s not found", h),
		})
		return
	case err != nil:
		s.internalError(w, "remove object", err)
		return
	}

	if err := s.meta.DeleteFile(h.String()); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("removed object but failed to delete metadata",
			zap.String("hash", h.String()), zap.Error(err))
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	h, err := hash.Parse(req.Hash)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Method == "" {
		req.Method = "copy"
	}
	method, err := archive.ParseDeployMethod(req.Method)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err = s.archive.DeployFile(h, req.Target, method)
	switch {
	case errors.Is(err, archive.ErrInvalidPath):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, archive.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, archive.ErrTargetExists), errors.Is(err, archive.ErrBareArchive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, archive.ErrUnsupported):
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.internalError(w, "deploy object", err)
		return
	}

	d, err := s.meta.RecordDeployment(h.String(), req.Target, method.String())
	if err != nil {
		s.logger.Warn("deployed object but failed to record deployment",
			zap.String("hash", h.String()), zap.Error(err))
		writeJSON(w, http.StatusCreated, store.Deployment{
			Hash: h.String(), TargetPath: req.Target, Method: method.String(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDeployments(w http.ResponseWriter, _ *http.Request) {
	deployments, err := s.meta.ListDeployments()
	if err != nil {
		s.internalError(w, "list deployments", err)
		return
	}
	if deployments == nil {
		deployments = []store.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.meta.Stats()
	if err != nil {
		s.internalError(w, "load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// pathHash parses the {hash} path segment, answering 400 on bad input.
func (s *Server) pathHash(w http.ResponseWriter, r *http.Request) (hash.Hash, bool) {
	h, err := hash.Parse(r.PathValue("hash"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return hash.Hash{}, false
	}
	return h, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("internal error", zap.String("op", op), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

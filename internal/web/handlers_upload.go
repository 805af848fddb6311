package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/JonMunkholm/stockcount/internal/core"
)

// multipartOverhead is allowed on top of the file size for form fields and
// part headers.
const multipartOverhead = 1 << 20

// readUpload returns the uploaded CSV text and the client's mapping, if any.
// Uploads arrive either as multipart/form-data with a "file" part and an
// optional "mapping" field, or as a raw text/csv body with the mapping in the
// "mapping" query parameter.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, *core.MappingSpec, error) {
	maxSize := s.cfg.Import.MaxFileSize

	var (
		text        string
		mappingJSON string
		err         error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
		if err := r.ParseMultipartForm(maxSize); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, fmt.Errorf("%w: exceeds %d bytes", core.ErrFileTooLarge, maxSize)
			}
			return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		defer r.MultipartForm.RemoveAll()

		file, _, err := r.FormFile("file")
		if err != nil {
			return "", nil, errNoFile
		}
		defer file.Close()

		if text, err = core.ReadImportText(file, maxSize); err != nil {
			return "", nil, err
		}
		mappingJSON = r.FormValue("mapping")
	} else {
		if text, err = core.ReadImportText(r.Body, maxSize); err != nil {
			return "", nil, err
		}
		mappingJSON = r.URL.Query().Get("mapping")
	}

	if mappingJSON == "" {
		return text, nil, nil
	}
	var spec core.MappingSpec
	if err := json.Unmarshal([]byte(mappingJSON), &spec); err != nil {
		return "", nil, fmt.Errorf("%w: invalid mapping: %v", errBadRequest, err)
	}
	return text, &spec, nil
}

// handleImportMapping tokenizes an upload and returns its headers with the
// automatic column mapping.
func (s *Server) handleImportMapping(w http.ResponseWriter, r *http.Request) {
	text, _, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.PreviewImport(r.Context(), text, nil)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleImportPreview converts the first rows under the client's mapping.
// Nothing is written.
func (s *Server) handleImportPreview(w http.ResponseWriter, r *http.Request) {
	text, spec, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.PreviewImport(r.Context(), text, spec)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleImportCommit inserts every valid row. Rows without SKU or name are
// counted as rejected.
func (s *Server) handleImportCommit(w http.ResponseWriter, r *http.Request) {
	text, spec, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.CommitImport(r.Context(), orgID(r), text, spec)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

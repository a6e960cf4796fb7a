package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"simjobs/internal/apperrors"
	"simjobs/internal/job"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ImportResponse echoes a validated template; no jobs are created.
type ImportResponse struct {
	Imported int            `json:"imported"`
	Template job.Parameters `json:"template"`
	Message  string         `json:"message"`
}

// ImportTemplate handles POST /api/jobs/import - validates an uploaded JSON or
// YAML template together with the number of jobs the client intends to submit.
func (h *Handler) ImportTemplate(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope around a 1MB file.
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxRequestBodySize)
	if err := r.ParseMultipartForm(maxRequestBodySize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form (max 1MB)")
		return
	}

	// Validated against the same limit a batch submission would face.
	maxCount := h.dispatcher.MaxBatchSize()
	count, err := strconv.Atoi(r.FormValue("count"))
	if err != nil || count < 1 || count > maxCount {
		h.handleError(w, r, apperrors.Validation("count", fmt.Sprintf("count must be between 1 and %d", maxCount)))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.handleError(w, r, apperrors.Validation("file", "file is required"))
		return
	}
	defer file.Close()

	if header.Size > maxRequestBodySize {
		h.handleError(w, r, apperrors.Validation("file", "file size too large (max 1MB)"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read file")
		return
	}
	if len(data) > maxRequestBodySize {
		h.handleError(w, r, apperrors.Validation("file", "file size too large (max 1MB)"))
		return
	}

	template, err := parseTemplate(header.Filename, data)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	plural := "s"
	if count == 1 {
		plural = ""
	}
	writeJSON(w, http.StatusOK, ImportResponse{
		Imported: count,
		Template: template,
		Message:  fmt.Sprintf("Successfully validated simulation data for %d simulation%s", count, plural),
	})
}

// parseTemplate decodes a template over the defaults, normalizes and validates it.
// Files named *.yaml or *.yml are read as YAML, everything else as JSON.
func parseTemplate(filename string, data []byte) (job.Parameters, error) {
	p := job.DefaultParameters()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return job.Parameters{}, apperrors.Validation("file", "invalid YAML format: "+err.Error())
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&p); err != nil {
			return job.Parameters{}, apperrors.Validation("file", "invalid JSON format: "+err.Error())
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return job.Parameters{}, apperrors.Validation("file", "invalid JSON format: trailing data")
		}
	}

	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return job.Parameters{}, err
	}
	return p, nil
}

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/codec"
	"github.com/medimaging/dicom-sentinel/internal/dump"
	"github.com/medimaging/dicom-sentinel/internal/imaging"
	"github.com/medimaging/dicom-sentinel/internal/metadata"
	"github.com/medimaging/dicom-sentinel/internal/render"
	"github.com/medimaging/dicom-sentinel/internal/validate"
	"github.com/medimaging/dicom-sentinel/internal/websocket"
)

// maxUploadSize bounds multipart uploads.
const maxUploadSize = 512 << 20

// handleUpload stores an uploaded DICOM file and returns its stored name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing form field \"file\"")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	if !codec.Probe(data) {
		s.respondError(w, http.StatusUnsupportedMediaType, "not a DICOM part 10 file")
		return
	}

	stored, err := s.files.Save(header.Filename, data)
	if err != nil {
		s.logger.Error("Failed to persist upload", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeUpload,
		Timestamp: time.Now(),
		Data: websocket.UploadEvent{
			Name:     header.Filename,
			StoredAs: stored,
			Size:     int64(len(data)),
		},
	})

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"stored_as": stored,
		"size":      len(data),
	})
}

// handleMetadata returns the summary, or the categorized detail view
// with ?detail=true.
func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("detail") == "true" {
		s.respondJSON(w, http.StatusOK, metadata.Detail(file.Data))
		return
	}
	s.respondJSON(w, http.StatusOK, metadata.Summarize(file.Data, file.TransferSyntax()))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, validate.Check(file.Data))
}

// handleAnonymize redacts the stored file and persists the result as a
// derived file next to the original.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Anonymize(file.Data)
	if err != nil {
		s.logger.Error("Anonymization failed", zap.String("file", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "anonymization failed")
		return
	}
	file.Data = result.DataSet

	var buf bytes.Buffer
	if err := codec.Encode(&buf, file); err != nil {
		s.logger.Error("Failed to encode anonymized file", zap.String("file", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to encode result")
		return
	}

	outName, outPath := s.files.DerivedPath(name, "anon", "dcm")
	if err := os.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		s.logger.Error("Failed to write anonymized file", zap.String("file", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store result")
		return
	}

	warnings := make([]string, 0, len(result.Warnings))
	for _, warning := range result.Warnings {
		warnings = append(warnings, warning.String())
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"stored_as": outName,
		"redacted":  result.Redacted,
		"warnings":  warnings,
	})
}

// handleRender renders one frame of the stored file to an image.
// Query parameters: frame, center, width, bit_depth, format.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}

	desc, payload, err := render.FromDataSet(file.Data)
	if err != nil {
		s.respondRenderError(w, err)
		return
	}

	req := render.RenderRequest{
		BitDepth: s.config.Render.BitDepth,
		Frame:    render.Frame(0),
	}
	q := r.URL.Query()
	if v := q.Get("frame"); v != "" {
		frame, err := strconv.Atoi(v)
		if err != nil || frame < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid frame index")
			return
		}
		req.Frame = render.Frame(frame)
	}
	if v := q.Get("bit_depth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid bit depth")
			return
		}
		req.BitDepth = depth
	}
	if center, width := q.Get("center"), q.Get("width"); center != "" && width != "" {
		c, errC := strconv.ParseFloat(center, 64)
		wd, errW := strconv.ParseFloat(width, 64)
		if errC != nil || errW != nil {
			s.respondError(w, http.StatusBadRequest, "invalid window parameters")
			return
		}
		req.Window = &render.Window{Center: c, Width: wd}
	}

	format := imaging.Format(s.config.Render.Format)
	if v := q.Get("format"); v != "" {
		format, err = imaging.ParseFormat(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	frames, err := render.Render(payload, desc, req)
	if err != nil {
		s.respondRenderError(w, err)
		return
	}

	encoded, err := imaging.Encode(frames[0], format)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if format == imaging.FormatJPEG {
		w.Header().Set("Content-Type", "image/jpeg")
	} else {
		w.Header().Set("Content-Type", "image/png")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(encoded)
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}

	desc, payload, err := render.FromDataSet(file.Data)
	if err != nil {
		s.respondRenderError(w, err)
		return
	}

	bins := s.config.Render.HistogramBins
	var frame *int
	q := r.URL.Query()
	if v := q.Get("bins"); v != "" {
		bins, err = strconv.Atoi(v)
		if err != nil || bins <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid bin count")
			return
		}
	}
	if v := q.Get("frame"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid frame index")
			return
		}
		frame = render.Frame(n)
	}

	hist, err := render.ComputeHistogram(payload, desc, bins, frame)
	if err != nil {
		s.respondRenderError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, hist)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}

	desc, payload, err := render.FromDataSet(file.Data)
	if err != nil {
		s.respondRenderError(w, err)
		return
	}

	stats, err := render.ComputeStatistics(payload, desc)
	if err != nil {
		s.respondRenderError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	file, ok := s.openStored(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, dump.DataSet(file.Data, dump.DefaultOptions()))
}

// openStored resolves the {name} route variable and decodes the file.
// On failure it writes the response and returns ok=false.
func (s *Server) openStored(w http.ResponseWriter, r *http.Request) (*codec.File, bool) {
	name := mux.Vars(r)["name"]

	path, err := s.files.Resolve(name)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "file not found")
		return nil, false
	}

	file, err := codec.Open(path)
	if err != nil {
		var decodeErr *codec.DecodeError
		if errors.As(err, &decodeErr) {
			s.respondError(w, http.StatusUnprocessableEntity, decodeErr.Error())
			return nil, false
		}
		s.logger.Error("Failed to open stored file", zap.String("file", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to read file")
		return nil, false
	}
	return file, true
}

// respondRenderError maps pixel pipeline errors to HTTP statuses.
func (s *Server) respondRenderError(w http.ResponseWriter, err error) {
	var integrityErr *render.IntegrityError
	var unsupportedErr *render.UnsupportedFormatError
	switch {
	case errors.Is(err, render.ErrNoPixelData):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &integrityErr):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &unsupportedErr):
		s.respondError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		s.respondError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

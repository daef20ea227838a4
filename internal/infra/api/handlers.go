package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/usecase"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	// multipart and base64 framing on top of the image bytes
	bodyOverhead = 1 << 20
)

type createJobRequest struct {
	FileName  string                `json:"fileName"`
	Size      int64                 `json:"size"`
	MimeType  string                `json:"mimeType"`
	SourceURL string                `json:"sourceUrl"`
	Data      string                `json:"data"` // base64
	Metadata  map[string]string     `json:"metadata"`
	Brand     *model.BrandContext   `json:"brandContext"`
	Product   *model.ProductContext `json:"productContext"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	// base64 inflates by a third
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUpload*4/3+bodyOverhead)

	var (
		in  usecase.UploadImageInput
		err error
	)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "multipart/form-data":
		in, err = s.parseMultipart(r)
	case "application/json", "":
		in, err = parseJSONUpload(r)
	default:
		err = badRequest("Content-Type", fmt.Sprintf("unsupported content type %q", mt))
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.deps.Uploads.Execute(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/jobs/"+job.ID().String())
	writeJSON(w, http.StatusCreated, toJobResponse(job, s.deps.Storage))
}

func (s *Server) parseMultipart(r *http.Request) (usecase.UploadImageInput, error) {
	var in usecase.UploadImageInput
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return in, mbe
		}
		return in, badRequest("body", "malformed multipart body")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in.SourceURL = r.FormValue("sourceUrl")
	in.FileName = r.FormValue("fileName")
	in.MimeType = r.FormValue("mimeType")

	file, hdr, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return in, err
		}
		in.Data = data
		in.Size = hdr.Size
		if in.FileName == "" {
			in.FileName = hdr.Filename
		}
		if in.MimeType == "" {
			in.MimeType = hdr.Header.Get("Content-Type")
		}
	case errors.Is(err, http.ErrMissingFile):
		if in.SourceURL == "" {
			return in, badRequest("file", "either file or sourceUrl is required")
		}
	default:
		return in, badRequest("file", "unreadable file part")
	}

	if err := decodeField(r.FormValue("metadata"), "metadata", &in.Metadata); err != nil {
		return in, err
	}
	if err := decodeField(r.FormValue("brandContext"), "brandContext", &in.Brand); err != nil {
		return in, err
	}
	if err := decodeField(r.FormValue("productContext"), "productContext", &in.Product); err != nil {
		return in, err
	}
	return in, nil
}

func parseJSONUpload(r *http.Request) (usecase.UploadImageInput, error) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return usecase.UploadImageInput{}, mbe
		}
		return usecase.UploadImageInput{}, badRequest("body", "malformed JSON body")
	}
	in := usecase.UploadImageInput{
		FileName:  req.FileName,
		Size:      req.Size,
		MimeType:  req.MimeType,
		SourceURL: req.SourceURL,
		Metadata:  req.Metadata,
		Brand:     req.Brand,
		Product:   req.Product,
	}
	if req.Data != "" {
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			return in, badRequest("data", "must be base64")
		}
		in.Data = data
		if in.Size == 0 {
			in.Size = int64(len(data))
		}
	}
	return in, nil
}

func decodeField(raw, field string, dst any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return badRequest(field, "must be a JSON object")
	}
	return nil
}

func badRequest(field, msg string) error {
	return domain.NewValidationError(domain.Violation{Field: field, Code: domain.CodeValidation, Message: msg})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" {
		status, err := model.ParseProcessingStatus(raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		jobs, err := s.deps.Jobs.ListByStatus(r.Context(), status)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toJobList(jobs, s.deps.Storage))
		return
	}

	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	opts := repository.ListOptions{Limit: defaultPageSize, Offset: offset}
	if limit > 0 {
		opts.Limit = min(limit, maxPageSize)
	}
	jobs, err := s.deps.Jobs.List(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobList(jobs, s.deps.Storage))
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest(field, "must be a non-negative integer")
	}
	return v, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, s.deps.Storage))
}

func (s *Server) processJob(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	withAI := true
	if raw := r.URL.Query().Get("ai"); raw != "" {
		withAI, err = strconv.ParseBool(raw)
		if err != nil {
			s.fail(w, r, badRequest("ai", "must be a boolean"))
			return
		}
	}
	res, err := s.deps.Pipeline.Execute(r.Context(), id, withAI)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProcessResponse(res, s.deps.Storage))
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Jobs.Enqueue)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Jobs.Cancel)
}

func (s *Server) restartJob(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.deps.Jobs.Restart)
}

type transitionFunc func(ctx context.Context, id model.JobID) (*model.ImageJob, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := model.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := fn(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job, s.deps.Storage))
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.deps.Jobs.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Jobs.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(st))
}

func (s *Server) jobEvents(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.deps.Hub.ServeWS(w, r, id.String())
}

func (s *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	s.deps.Hub.ServeWS(w, r, "")
}

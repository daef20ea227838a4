package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"product-image-pipeline/internal/domain"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/domain/ports/repository"
	"product-image-pipeline/internal/usecase"
)

type errorBody struct {
	Code        string             `json:"code"`
	Error       string             `json:"error"`
	Recoverable bool               `json:"recoverable"`
	Violations  []domain.Violation `json:"violations,omitempty"`
}

type versionResponse struct {
	Variant      model.VariantKind `json:"variant"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Format       model.ImageFormat `json:"format"`
	Quality      int               `json:"quality"`
	Bytes        int64             `json:"bytes"`
	WithinLimit  bool              `json:"withinLimit"`
	Recompressed bool              `json:"recompressed"`
	FileName     string            `json:"fileName"`
	Path         string            `json:"path"`
	URL          string            `json:"url"`
	ContentHash  string            `json:"contentHash"`
	CreatedAt    time.Time         `json:"createdAt"`
}

type jobResponse struct {
	ID           string                 `json:"id"`
	Status       model.ProcessingStatus `json:"status"`
	FileName     string                 `json:"fileName"`
	MimeType     string                 `json:"mimeType"`
	OriginalSize int64                  `json:"originalSize"`
	OriginalPath string                 `json:"originalPath,omitempty"`
	OriginalURL  string                 `json:"originalUrl,omitempty"`
	Metadata     map[string]string      `json:"metadata,omitempty"`
	Brand        *model.BrandContext    `json:"brandContext,omitempty"`
	Product      *model.ProductContext  `json:"productContext,omitempty"`
	Versions     []versionResponse      `json:"versions"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

type processResponse struct {
	Job       jobResponse             `json:"job"`
	Analysis  *adapter.AnalysisResult `json:"analysis,omitempty"`
	ElapsedMs int64                   `json:"elapsedMs"`
}

type statsResponse struct {
	Total    int                            `json:"total"`
	ByStatus map[model.ProcessingStatus]int `json:"byStatus"`
}

func toJobResponse(j *model.ImageJob, storage adapter.ObjectStorage) jobResponse {
	out := jobResponse{
		ID:           j.ID().String(),
		Status:       j.Status(),
		FileName:     j.FileName().String(),
		MimeType:     j.MimeType(),
		OriginalSize: j.OriginalSize().Bytes(),
		OriginalPath: j.OriginalPath(),
		Metadata:     j.Metadata(),
		Brand:        j.Brand(),
		Product:      j.Product(),
		Versions:     make([]versionResponse, 0, model.VariantCount),
		CreatedAt:    j.CreatedAt(),
		UpdatedAt:    j.UpdatedAt(),
	}
	if out.OriginalPath != "" {
		out.OriginalURL = storage.PublicURL(out.OriginalPath)
	}
	for _, v := range j.Versions().All() {
		out.Versions = append(out.Versions, versionResponse{
			Variant:      v.Kind(),
			Width:        v.Resolution().Width(),
			Height:       v.Resolution().Height(),
			Format:       v.Format(),
			Quality:      v.Quality(),
			Bytes:        v.Size().Bytes(),
			WithinLimit:  v.IsWithinSizeLimit(),
			Recompressed: v.Recompressed(),
			FileName:     v.FileName().String(),
			Path:         v.StoragePath(),
			URL:          storage.PublicURL(v.StoragePath()),
			ContentHash:  v.ContentHash(),
			CreatedAt:    v.CreatedAt(),
		})
	}
	return out
}

func toJobList(jobs []*model.ImageJob, storage adapter.ObjectStorage) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j, storage))
	}
	return out
}

func toProcessResponse(res *usecase.PipelineResult, storage adapter.ObjectStorage) processResponse {
	return processResponse{
		Job:       toJobResponse(res.Job, storage),
		Analysis:  res.Analysis,
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
}

func toStatsResponse(s repository.JobStats) statsResponse {
	by := s.ByStatus
	if by == nil {
		by = map[model.ProcessingStatus]int{}
	}
	return statsResponse{Total: s.Total, ByStatus: by}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain failures onto HTTP codes.
func statusFor(err error) int {
	var (
		ve  *domain.ValidationError
		nf  *domain.JobNotFoundError
		ise *domain.InvalidStateError
		de  *domain.DownloadError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &ve), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &nf), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ise), errors.Is(err, domain.ErrLockNotAcquired):
		return http.StatusConflict
	case errors.As(err, &de):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorFor(err error) errorBody {
	body := errorBody{Code: string(domain.CodeOf(err)), Error: err.Error()}
	var de domain.Error
	if errors.As(err, &de) {
		body.Recoverable = de.Recoverable()
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Violations = ve.Violations
	}
	if body.Code == "" {
		switch statusFor(err) {
		case http.StatusRequestEntityTooLarge:
			body.Code = string(domain.CodeFileTooLarge)
			body.Recoverable = true
		case http.StatusBadRequest:
			body.Code = string(domain.CodeValidation)
			body.Recoverable = true
		case http.StatusNotFound:
			body.Code = "NOT_FOUND"
		case http.StatusConflict:
			body.Code = "JOB_BUSY"
			body.Recoverable = true
		case http.StatusGatewayTimeout:
			body.Code = "TIMEOUT"
			body.Recoverable = true
		default:
			body.Code = "INTERNAL"
		}
	}
	return body
}
